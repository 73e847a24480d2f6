package cli

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/psaab/bbrd/pkg/backbone"
	"github.com/psaab/bbrd/pkg/dnssd"
	"github.com/psaab/bbrd/pkg/ip6"
	"github.com/psaab/bbrd/pkg/logging"
	"github.com/psaab/bbrd/pkg/mroute"
)

// FormatRole renders the "show role" output.
func FormatRole(role backbone.Role, forwarding bool) string {
	state := "disabled"
	if forwarding {
		state = "enabled"
	}
	return fmt.Sprintf("Role: %s\nForwarding: %s\n", role, state)
}

// FormatRoutes renders the forwarding cache as a table. Idle time is
// relative to now.
func FormatRoutes(entries []mroute.RouteEntry, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-40s %-28s %-9s %-9s %10s %8s\n",
		"Source", "Group", "Iif", "Oif", "Packets", "Idle")
	for _, e := range entries {
		idle := now.Sub(e.LastUse).Truncate(time.Second)
		fmt.Fprintf(&b, "%-40s %-28s %-9s %-9s %10d %8s\n",
			e.Source, e.Group, e.Iif, e.Oif, e.ValidPackets, idle)
	}
	fmt.Fprintf(&b, "Total entries: %d\n", len(entries))
	return b.String()
}

// FormatListeners renders the listener table with each group's scope.
func FormatListeners(groups []netip.Addr) string {
	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "  %-40s %s\n", g, ip6.ScopeName(ip6.Scope(g)))
	}
	fmt.Fprintf(&b, "Total listeners: %d\n", len(groups))
	return b.String()
}

// FormatEvents renders events newest first.
func FormatEvents(events []logging.EventRecord) string {
	if len(events) == 0 {
		return "No events recorded\n"
	}
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "%s %-15s", ev.Time.Format("2006-01-02 15:04:05"), ev.Type)
		if attrs := ev.Attrs(); attrs != "" {
			b.WriteString(" " + attrs)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatSubscriptions renders DNS-SD subscriptions with their reference
// counts.
func FormatSubscriptions(subs *dnssd.Subscriptions) string {
	names := subs.Names()
	if len(names) == 0 {
		return "No DNS-SD subscriptions\n"
	}
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "  %-50s refs=%d\n", name, subs.Count(name))
	}
	return b.String()
}
