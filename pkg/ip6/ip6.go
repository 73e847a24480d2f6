// Package ip6 provides IPv6 address helpers shared by the multicast forwarding code.
package ip6

import (
	"fmt"
	"net/netip"
)

// IPv6 address scopes (RFC 7346).
const (
	NodeLocal  uint8 = 1
	LinkLocal  uint8 = 2
	RealmLocal uint8 = 3
	AdminLocal uint8 = 4
	SiteLocal  uint8 = 5
	OrgLocal   uint8 = 8
	Global     uint8 = 14
)

// Scope returns the scope of addr. For multicast addresses this is the
// scope nibble of the second byte; unicast addresses are classified as
// node-local (loopback), link-local or global.
func Scope(addr netip.Addr) uint8 {
	switch {
	case addr.Is6() && addr.IsMulticast():
		b := addr.As16()
		return b[1] & 0x0f
	case addr.IsLoopback():
		return NodeLocal
	case addr.IsLinkLocalUnicast():
		return LinkLocal
	default:
		return Global
	}
}

// ScopeName returns a human readable name for a scope value.
func ScopeName(scope uint8) string {
	switch scope {
	case NodeLocal:
		return "node-local"
	case LinkLocal:
		return "link-local"
	case RealmLocal:
		return "realm-local"
	case AdminLocal:
		return "admin-local"
	case SiteLocal:
		return "site-local"
	case OrgLocal:
		return "org-local"
	case Global:
		return "global"
	default:
		return fmt.Sprintf("scope-%d", scope)
	}
}

// ParseMulticast parses s and requires it to be an IPv6 multicast address.
func ParseMulticast(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse group %q: %w", s, err)
	}
	if !addr.Is6() || addr.Is4In6() || !addr.IsMulticast() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv6 multicast address", s)
	}
	return addr.WithZone(""), nil
}
