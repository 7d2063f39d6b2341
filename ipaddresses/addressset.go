package ipaddresses

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/phemmer/go-iptrie"
)

// AddressSet is an immutable set of addresses and address ranges that can be queried concurrently.
type AddressSet struct {
	trie *iptrie.Trie
	size int
}

// NewAddressSet builds a set from explicit addresses such as "10.0.0.1" or "::1".
func NewAddressSet(addrs []string) (set *AddressSet, err error) {
	set = &AddressSet{trie: iptrie.NewTrie()}
	for _, a := range addrs {
		var addr netip.Addr
		addr, err = ParseAddress(a)
		if err != nil {
			return nil, err
		}

		set.trie.Insert(netip.PrefixFrom(addr, addr.BitLen()), nil)
		set.size++
	}

	return
}

// NewRangeSet builds a set from CIDR ranges such as "10.0.0.0/8" or "2001:db8::/32".
func NewRangeSet(cidrs []string) (set *AddressSet, err error) {
	set = &AddressSet{trie: iptrie.NewTrie()}
	for _, c := range cidrs {
		var prefix netip.Prefix
		prefix, err = ParsePrefix(c)
		if err != nil {
			return nil, err
		}

		set.trie.Insert(prefix, nil)
		set.size++
	}

	return
}

// ParsePrefix parses a CIDR range, normalizing IPv4-mapped addresses and masking host bits.
func ParsePrefix(cidr string) (prefix netip.Prefix, err error) {
	prefix, err = netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		err = fmt.Errorf(errInvalidCIDRFmt, cidr)
		return
	}

	addr := prefix.Addr()
	bits := prefix.Bits()
	if addr.Is4In6() {
		if bits < 96 {
			err = fmt.Errorf(errInvalidCIDRFmt, cidr)
			return
		}
		addr = addr.Unmap()
		bits -= 96
	}

	prefix = netip.PrefixFrom(addr, bits).Masked()
	return
}

// Contains reports whether addr is in the set.
func (s *AddressSet) Contains(addr netip.Addr) bool {
	if s == nil || !addr.IsValid() {
		return false
	}
	return s.trie.Contains(addr.Unmap())
}

// Len returns the number of entries the set was built from.
func (s *AddressSet) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}
