package geodb

import (
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"proxywaf/waf"

	"github.com/stretchr/testify/require"
)

type mockCountryDB struct {
	country waf.Country
	closes  atomic.Int32
}

func (m *mockCountryDB) LookupCountry(addr netip.Addr) (waf.Country, bool, error) {
	return m.country, true, nil
}

func (m *mockCountryDB) DatabaseType() string { return "Mock-Country" }

func (m *mockCountryDB) Close() error {
	m.closes.Add(1)
	return nil
}

// countingProvider counts how often the config is read.
type countingProvider struct {
	waf.ConfigProvider
	reads atomic.Int32
}

func (c *countingProvider) GetConfig() (waf.ConfigSnapshot, error) {
	c.reads.Add(1)
	return c.ConfigProvider.GetConfig()
}

var testRecords = []rangeRecordDoc{
	{StartIP: "81.2.69.142", EndIP: "81.2.69.191", CountryCode: "gb", CountryName: "United Kingdom"},
	{StartIP: "68.16.0.0", EndIP: "68.16.255.255", CountryCode: "US", CountryName: "United States"},
	{StartIP: "89.160.20.112", EndIP: "89.160.20.127", CountryCode: "SE", CountryName: "Sweden"},
	{StartIP: "1.1.1.1", EndIP: "1.1.1.1", CountryCode: "AU"},
}

// writeRangeTable writes a range table database into a temporary directory and returns its path.
func writeRangeTable(t *testing.T, name string, databaseType string, records []rangeRecordDoc) string {
	data, err := json.Marshal(rangeTableFile{DatabaseType: databaseType, Records: records})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
