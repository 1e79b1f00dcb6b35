package match

import (
	"encoding/binary"
	"net/netip"
	"strings"
)

// IPMatch evaluates an IP predicate against the client address. Forms:
//
//	exact     "1.2.3.4"
//	CIDR      "1.2.3.0/24"
//	range     "1.2.3.1-1.2.3.99"
//	wildcard  "1.2.*" ("*" matches any run of characters)
func IPMatch(pattern, ip string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || ip == "" {
		return false
	}

	if strings.Contains(pattern, "/") {
		prefix, err := netip.ParsePrefix(pattern)
		if err != nil {
			return false
		}
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return false
		}
		return prefix.Contains(addr)
	}

	if strings.Contains(pattern, "-") {
		lo, hi, ok := strings.Cut(pattern, "-")
		if !ok {
			return false
		}
		return ipInRange(strings.TrimSpace(lo), strings.TrimSpace(hi), ip)
	}

	if strings.Contains(pattern, "*") {
		return Glob(pattern, ip)
	}

	return pattern == ip
}

func ipInRange(lo, hi, ip string) bool {
	a, errA := netip.ParseAddr(lo)
	b, errB := netip.ParseAddr(hi)
	c, errC := netip.ParseAddr(ip)
	if errA != nil || errB != nil || errC != nil {
		return false
	}
	if !a.Is4() || !b.Is4() || !c.Is4() {
		return false
	}
	av := binary.BigEndian.Uint32(addr4(a))
	bv := binary.BigEndian.Uint32(addr4(b))
	cv := binary.BigEndian.Uint32(addr4(c))
	if av > bv {
		av, bv = bv, av
	}
	return cv >= av && cv <= bv
}

func addr4(a netip.Addr) []byte {
	b := a.As4()
	return b[:]
}
