package ipaddresses

import (
	"fmt"
	"net/netip"
	"strings"
)

// DefaultForwardedHeader is the header that carries the original client address when the WAF sits behind another proxy.
const DefaultForwardedHeader = "X-Forwarded-For"

// ParseAddress parses an IPv4 or IPv6 address that may carry a port, such as "1.2.3.4:80" or "[::1]:443".
// IPv4-mapped IPv6 addresses are unmapped.
func ParseAddress(s string) (addr netip.Addr, err error) {
	s = strings.TrimSpace(s)
	addr, err = netip.ParseAddr(s)
	if err != nil {
		var addrPort netip.AddrPort
		addrPort, err = netip.ParseAddrPort(s)
		if err != nil {
			err = fmt.Errorf(errInvalidIPAddrFmt, s)
			return
		}
		addr = addrPort.Addr()
	}

	addr = addr.Unmap().WithZone("")
	return
}

// ClientAddress picks the address a request originates from. The first entry of forwardedFor wins over the socket address.
func ClientAddress(socketAddr string, forwardedFor string) (addr netip.Addr, err error) {
	if forwardedFor != "" {
		first := forwardedFor
		if i := strings.IndexByte(first, ','); i >= 0 {
			first = first[:i]
		}

		addr, err = ParseAddress(first)
		if err == nil {
			return
		}
	}

	return ParseAddress(socketAddr)
}

// IsSpecialPurposeAddress tells whether the address belongs to one of the IANA special purpose ranges,
// which are never part of GeoIP data sets.
func IsSpecialPurposeAddress(ipAddr string) (special bool, err error) {
	addr, err := ParseAddress(ipAddr)
	if err != nil {
		return
	}

	special = IsSpecialPurpose(addr)
	return
}

// IsSpecialPurpose is IsSpecialPurposeAddress for an already parsed address.
func IsSpecialPurpose(addr netip.Addr) bool {
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsInterfaceLocalMulticast()
}
