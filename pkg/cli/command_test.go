package cli

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/psaab/bbrd/pkg/backbone"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"role primary", Command{Kind: KindRole, Role: backbone.RolePrimary}},
		{"ro sec", Command{Kind: KindRole, Role: backbone.RoleSecondary}},
		{"  role   disabled ", Command{Kind: KindRole, Role: backbone.RoleDisabled}},
		{"listener add ff05::1", Command{Kind: KindListenerAdd, Group: netip.MustParseAddr("ff05::1")}},
		{"l d ff04::1", Command{Kind: KindListenerDel, Group: netip.MustParseAddr("ff04::1")}},
		{"dnssd subscribe _meshcop._udp", Command{Kind: KindSubscribe, Name: "_meshcop._udp"}},
		{"dnssd unsub _meshcop._udp", Command{Kind: KindUnsubscribe, Name: "_meshcop._udp"}},
		{"show role", Command{Kind: KindShowRole}},
		{"sh mfc", Command{Kind: KindShowMFC}},
		{"show l", Command{Kind: KindShowListeners}},
		{"show dnssd", Command{Kind: KindShowSubscriptions}},
		{"show events", Command{Kind: KindShowEvents, Count: DefaultEventCount}},
		{"show events 5", Command{Kind: KindShowEvents, Count: 5}},
		{"help", Command{Kind: KindHelp}},
		{"exit", Command{Kind: KindExit}},
		{"quit", Command{Kind: KindExit}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			if err != nil {
				t.Fatalf("ParseCommand(%q): %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"unknown", "frobnicate"},
		{"unknown role", "role leader"},
		{"incomplete", "show"},
		{"incomplete role", "role"},
		{"missing group", "listener add"},
		{"unicast group", "listener add 2001:db8::1"},
		{"ipv4 group", "listener add 224.0.0.1"},
		{"bad address", "listener del nope"},
		{"extra argument", "role primary now"},
		{"two arguments", "show events 5 6"},
		{"zero events", "show events 0"},
		{"non-numeric events", "show events many"},
		{"argument to exit", "exit now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand(tt.line)
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("ParseCommand(%q) err = %v, want %v", tt.line, err, ErrSyntax)
			}
		})
	}
}

func TestParseCommandEmpty(t *testing.T) {
	for _, line := range []string{"", "   ", "\t"} {
		if _, err := ParseCommand(line); !errors.Is(err, ErrEmpty) {
			t.Errorf("ParseCommand(%q) err = %v, want %v", line, err, ErrEmpty)
		}
	}
}

func TestLookupAmbiguous(t *testing.T) {
	tree := map[string]*completionNode{
		"listener":  {},
		"listeners": {},
		"mfc":       {},
	}
	if _, err := lookup(tree, "list"); !errors.Is(err, ErrSyntax) {
		t.Errorf("lookup(list) err = %v, want ambiguous", err)
	}
	got, err := lookup(tree, "listener")
	if err != nil || got != "listener" {
		t.Errorf("exact match = %q, %v; want listener", got, err)
	}
	got, err = lookup(tree, "m")
	if err != nil || got != "mfc" {
		t.Errorf("prefix match = %q, %v; want mfc", got, err)
	}
}

func TestKindString(t *testing.T) {
	if got := KindShowMFC.String(); got != "show mfc" {
		t.Errorf("got %q, want %q", got, "show mfc")
	}
	if got := Kind(99).String(); got != "kind(99)" {
		t.Errorf("got %q, want %q", got, "kind(99)")
	}
}
