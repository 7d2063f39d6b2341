package geodb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"

	"proxywaf/ipaddresses"
	"proxywaf/waf"

	"github.com/google/btree"
)

// rangeTableFile is the on-disk JSON form of a range table database.
type rangeTableFile struct {
	DatabaseType string           `json:"databaseType"`
	Records      []rangeRecordDoc `json:"records"`
}

type rangeRecordDoc struct {
	StartIP     string `json:"startIp"`
	EndIP       string `json:"endIp"`
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName,omitempty"`
}

// rangeTableDB holds sorted, non-overlapping IPv4 ranges in a btree.
type rangeTableDB struct {
	databaseType string
	tree         *btree.BTree
}

// openRangeTable reads a JSON range table from path.
func openRangeTable(path string) (db *rangeTableDB, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var doc rangeTableFile
	if err = json.Unmarshal(data, &doc); err != nil {
		err = fmt.Errorf("%v is not a valid range table: %w", path, err)
		return
	}

	return newRangeTableDB(doc)
}

func newRangeTableDB(doc rangeTableFile) (db *rangeTableDB, err error) {
	nodes := make([]geoIPTreeNode, 0, len(doc.Records))
	for _, rec := range doc.Records {
		var node geoIPTreeNode
		node, err = newGeoIPTreeNode(rec)
		if err != nil {
			return
		}
		nodes = append(nodes, node)
	}

	if err = validateRanges(nodes); err != nil {
		return
	}

	db = &rangeTableDB{databaseType: doc.DatabaseType, tree: btree.New(2)}
	for _, node := range nodes {
		db.tree.ReplaceOrInsert(node)
	}
	return
}

func (db *rangeTableDB) LookupCountry(addr netip.Addr) (country waf.Country, found bool, err error) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return
	}

	b := addr.As4()
	ip := binary.BigEndian.Uint32(b[:])
	item := db.tree.Get(geoIPTreeNode{StartIP: ip, EndIP: ip})
	if item == nil {
		return
	}

	node := item.(geoIPTreeNode)
	country = waf.Country{ISOCode: node.CountryCode, Name: node.CountryName}
	found = true
	return
}

func (db *rangeTableDB) DatabaseType() string {
	return db.databaseType
}

func (db *rangeTableDB) Close() error {
	return nil
}

// validateRanges sorts the ranges and rejects inverted or overlapping ones.
func validateRanges(nodes []geoIPTreeNode) (err error) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].StartIP < nodes[j].StartIP
	})

	for i, curr := range nodes {
		if curr.StartIP > curr.EndIP {
			err = fmt.Errorf("range (%s, %s, %s) has a start address greater than its end address",
				ipaddresses.ToOctets(curr.StartIP), ipaddresses.ToOctets(curr.EndIP), curr.CountryCode)
			return
		}

		if i == 0 {
			continue
		}

		prev := nodes[i-1]
		if curr.StartIP <= prev.EndIP {
			err = fmt.Errorf("overlap found between ranges (%s, %s, %s) and (%s, %s, %s)",
				ipaddresses.ToOctets(prev.StartIP), ipaddresses.ToOctets(prev.EndIP), prev.CountryCode,
				ipaddresses.ToOctets(curr.StartIP), ipaddresses.ToOctets(curr.EndIP), curr.CountryCode)
			return
		}
	}

	return
}

type geoIPTreeNode struct {
	StartIP     uint32
	EndIP       uint32
	CountryCode string
	CountryName string
}

// Less orders disjoint ranges. A single address compares equal to the range containing it.
func (node geoIPTreeNode) Less(other btree.Item) bool {
	return node.StartIP < other.(geoIPTreeNode).StartIP && node.EndIP < other.(geoIPTreeNode).EndIP
}

func newGeoIPTreeNode(rec rangeRecordDoc) (node geoIPTreeNode, err error) {
	if node.StartIP, err = ipaddresses.ParseIPAddress(rec.StartIP); err != nil {
		return
	}
	if node.EndIP, err = ipaddresses.ParseIPAddress(rec.EndIP); err != nil {
		return
	}

	// Safeguard for data cleanness.
	node.CountryCode = strings.TrimSpace(strings.ToUpper(rec.CountryCode))
	node.CountryName = strings.TrimSpace(rec.CountryName)
	if len(node.CountryCode) != 2 {
		err = fmt.Errorf("range (%s, %s) has invalid country code %q", rec.StartIP, rec.EndIP, rec.CountryCode)
	}
	return
}
