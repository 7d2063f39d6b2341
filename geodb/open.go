package geodb

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"proxywaf/waf"
)

// ErrNotCountryDatabase is returned when a database file opens fine but does not map addresses to countries.
var ErrNotCountryDatabase = errors.New("not a country database")

// OpenCountryDB opens a .json range table or a MaxMind format database and checks that it is a country database.
func OpenCountryDB(path string) (db waf.CountryDB, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		db, err = openRangeTable(path)
	default:
		db, err = openMMDB(path)
	}
	if err != nil {
		err = fmt.Errorf("could not open GeoIP database %v: %w", path, err)
		db = nil
		return
	}

	// E.g. "GeoLite2-Country", "GeoIP2-Country", "DBIP-Country-Lite", "Country".
	if !strings.Contains(strings.ToLower(db.DatabaseType()), "country") {
		err = fmt.Errorf("GeoIP database %v has type %q: %w", path, db.DatabaseType(), ErrNotCountryDatabase)
		db.Close()
		db = nil
	}
	return
}
