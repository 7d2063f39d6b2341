package ipaddresses

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	errInvalidIPAddrFmt = "invalid IP address: %s"
	errInvalidCIDRFmt   = "invalid CIDR Notation: %s"
)

// ParseIPAddress converts a dotted IPv4 address to the 32-bit key the GeoIP range table is ordered by.
func ParseIPAddress(ipAddr string) (ip uint32, err error) {
	octets := strings.Split(ipAddr, ".")
	if len(octets) != 4 {
		err = fmt.Errorf(errInvalidIPAddrFmt, ipAddr)
		return
	}

	for _, octet := range octets {
		var b int

		b, err = strconv.Atoi(octet)
		if err != nil || b < 0 || b > 255 {
			err = fmt.Errorf(errInvalidIPAddrFmt, ipAddr)
			return
		}

		ip <<= 8
		ip |= uint32(b)
	}

	return ip, nil
}

// ToOctets converts a 32-bit unsigned integer into a readable string in "*.*.*.*" format.
func ToOctets(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip>>24, ip>>16&0xff, ip>>8&0xff, ip&0xff)
}
