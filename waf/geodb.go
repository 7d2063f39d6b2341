package waf

import (
	"net/netip"
)

// Country is the result of a successful GeoIP lookup.
type Country struct {
	ISOCode string
	Name    string
}

// CountryDB is an opened country database that maps addresses to countries.
type CountryDB interface {
	// LookupCountry returns found=false for addresses the database has no country for.
	LookupCountry(addr netip.Addr) (country Country, found bool, err error)
	DatabaseType() string
	Close() error
}

// GeoIPExtension is the config extension that points at the GeoIP database file.
type GeoIPExtension struct {
	DatabasePath string `yaml:"databasePath" json:"databasePath"`
}

// CountryResolver maps client addresses to countries using whatever country database is current.
type CountryResolver interface {
	// ResolveCountry borrows the current database for one lookup. An address without a country is not an error.
	ResolveCountry(addr netip.Addr) (country Country, found bool, err error)
	// Ready returns an error describing why no usable country database is available.
	Ready() error
}
