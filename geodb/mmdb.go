package geodb

import (
	"net/netip"

	"proxywaf/waf"

	"github.com/oschwald/maxminddb-golang"
)

// mmdbCountryRecord is the subset of the GeoIP2/GeoLite2/DB-IP country record that is read.
type mmdbCountryRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

type mmdbCountryDB struct {
	reader *maxminddb.Reader
}

func openMMDB(path string) (db *mmdbCountryDB, err error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return
	}

	db = &mmdbCountryDB{reader: reader}
	return
}

func (db *mmdbCountryDB) LookupCountry(addr netip.Addr) (country waf.Country, found bool, err error) {
	var rec mmdbCountryRecord
	_, found, err = db.reader.LookupNetwork(addr.AsSlice(), &rec)
	if err != nil || !found {
		found = false
		return
	}

	country = waf.Country{ISOCode: rec.Country.ISOCode, Name: rec.Country.Names["en"]}
	found = country.ISOCode != "" || country.Name != ""
	return
}

func (db *mmdbCountryDB) DatabaseType() string {
	return db.reader.Metadata.DatabaseType
}

func (db *mmdbCountryDB) Close() error {
	return db.reader.Close()
}
