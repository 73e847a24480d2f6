package ip6

import (
	"net/netip"
	"testing"
)

func TestScope(t *testing.T) {
	tests := []struct {
		addr string
		want uint8
	}{
		{"ff01::1", NodeLocal},
		{"ff02::1", LinkLocal},
		{"ff03::fc", RealmLocal},
		{"ff04::1", AdminLocal},
		{"ff05::1", SiteLocal},
		{"ff08::1", OrgLocal},
		{"ff0e::1", Global},
		{"ff35:40:fd00::1", SiteLocal},
		{"::1", NodeLocal},
		{"fe80::1", LinkLocal},
		{"2001:db8::1", Global},
	}
	for _, tt := range tests {
		got := Scope(netip.MustParseAddr(tt.addr))
		if got != tt.want {
			t.Errorf("Scope(%s) = %d, want %d", tt.addr, got, tt.want)
		}
	}
}

func TestScopeName(t *testing.T) {
	if got := ScopeName(RealmLocal); got != "realm-local" {
		t.Errorf("got %q, want %q", got, "realm-local")
	}
	if got := ScopeName(7); got != "scope-7" {
		t.Errorf("got %q, want %q", got, "scope-7")
	}
}

func TestParseMulticast(t *testing.T) {
	addr, err := ParseMulticast("ff04::1")
	if err != nil {
		t.Fatalf("ParseMulticast: %v", err)
	}
	if addr != netip.MustParseAddr("ff04::1") {
		t.Errorf("got %s, want ff04::1", addr)
	}

	for _, bad := range []string{"", "2001:db8::1", "224.0.0.1", "::ffff:224.0.0.1", "not-an-address"} {
		if _, err := ParseMulticast(bad); err == nil {
			t.Errorf("ParseMulticast(%q) succeeded, want error", bad)
		}
	}
}
