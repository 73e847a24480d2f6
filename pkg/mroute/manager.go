// Package mroute maintains the IPv6 multicast forwarding cache between the
// Thread and Backbone interfaces of a Backbone Router.
package mroute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/psaab/bbrd/pkg/ip6"
	"github.com/psaab/bbrd/pkg/logging"
)

// DefaultExpireTimeout is how long a forwarding cache entry may stay idle
// before its counters are checked.
const DefaultExpireTimeout = 300 * time.Second

// Stats counts forwarding cache activity since the manager was created.
type Stats struct {
	Upcalls       uint64
	UpcallErrors  uint64
	Installed     uint64
	InstallErrors uint64
	Unblocked     uint64
	Removed       uint64
	Expired       uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for idle expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithExpireTimeout overrides DefaultExpireTimeout.
func WithExpireTimeout(d time.Duration) Option {
	return func(m *Manager) { m.expireTimeout = d }
}

// WithUpcallReader makes Enable start a goroutine that reads upcalls from
// the backend and delivers them on Upcalls. Without it the owner drives
// reads itself through Process.
func WithUpcallReader(buffer int) Option {
	return func(m *Manager) { m.upcalls = make(chan Upcall, buffer) }
}

// WithEvents records route changes in eb.
func WithEvents(eb *logging.EventBuffer) Option {
	return func(m *Manager) { m.events = eb }
}

// Manager owns the listener set and the multicast forwarding cache.
//
// Enable, Disable, Add, Remove, HandleUpcall, Process and Expire must be
// called from a single goroutine. The read accessors (Routes, Listeners,
// Enabled, Stats) may be called from anywhere.
type Manager struct {
	backend       Backend
	now           func() time.Time
	expireTimeout time.Duration
	upcallLog     *slog.Logger
	events        *logging.EventBuffer

	mu        sync.RWMutex
	enabled   bool
	listeners map[netip.Addr]struct{}
	cache     *btree.BTreeG[RouteEntry]
	stats     Stats

	session uint64
	stop    chan struct{}
	upcalls chan Upcall
}

func lessEntry(a, b RouteEntry) bool {
	return a.Route.Less(b.Route)
}

// New creates a disabled Manager programming routes through backend.
func New(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:       backend,
		now:           time.Now,
		expireTimeout: DefaultExpireTimeout,
		listeners:     make(map[netip.Addr]struct{}),
		cache:         btree.NewG(16, lessEntry),
	}
	for _, o := range opts {
		o(m)
	}
	m.upcallLog = logging.RateLimited(slog.Default(), 100*time.Millisecond)
	return m
}

// Enabled reports whether the manager is programming the backend.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Upcalls returns the channel fed by the upcall reader, or nil when the
// manager was created without WithUpcallReader.
func (m *Manager) Upcalls() <-chan Upcall {
	return m.upcalls
}

// Enable opens the backend and registers ifaces. It is a no-op when already
// enabled. On failure the backend is closed and the manager stays disabled.
func (m *Manager) Enable(_ context.Context, ifaces Interfaces) error {
	if m.Enabled() {
		return nil
	}
	if err := m.backend.Open(ifaces); err != nil {
		if cerr := m.backend.Close(); cerr != nil && !errors.Is(cerr, ErrClosed) {
			slog.Debug("mroute: close after failed open", "err", cerr)
		}
		slog.Error("mroute: enable failed", "interfaces", ifaces.String(), "err", err)
		return fmt.Errorf("enable multicast routing: %w", err)
	}

	m.mu.Lock()
	m.enabled = true
	m.cache.Clear(false)
	m.session++
	m.stop = make(chan struct{})
	session, stop := m.session, m.stop
	m.mu.Unlock()

	if m.upcalls != nil {
		go m.readUpcalls(session, stop)
	}
	slog.Info("mroute: enabled", "interfaces", ifaces.String(), "listeners", len(m.listeners))
	return nil
}

// Disable closes the backend, which discards every installed entry, and
// empties the forwarding cache. It is a no-op when already disabled.
func (m *Manager) Disable() error {
	if !m.Enabled() {
		return nil
	}

	m.mu.Lock()
	m.enabled = false
	m.cache.Clear(false)
	close(m.stop)
	m.stop = nil
	m.mu.Unlock()

	if err := m.backend.Close(); err != nil && !errors.Is(err, ErrClosed) {
		slog.Warn("mroute: disable", "err", err)
		return fmt.Errorf("disable multicast routing: %w", err)
	}
	slog.Info("mroute: disabled")
	return nil
}

// Add registers group as having listeners on the Thread side. Adding a
// group twice is a programming error.
func (m *Manager) Add(group netip.Addr) {
	m.mu.Lock()
	if _, ok := m.listeners[group]; ok {
		m.mu.Unlock()
		panic(fmt.Sprintf("mroute: listener %s already registered", group))
	}
	m.listeners[group] = struct{}{}
	enabled := m.enabled
	m.mu.Unlock()

	if enabled {
		m.unblockInbound(group)
	}
	slog.Info("mroute: listener added", "group", group, "enabled", enabled)
}

// Remove unregisters group. Removing an unknown group is a programming error.
func (m *Manager) Remove(group netip.Addr) {
	m.mu.Lock()
	if _, ok := m.listeners[group]; !ok {
		m.mu.Unlock()
		panic(fmt.Sprintf("mroute: listener %s not registered", group))
	}
	delete(m.listeners, group)
	enabled := m.enabled
	m.mu.Unlock()

	if enabled {
		m.removeInbound(group)
	}
	slog.Info("mroute: listener removed", "group", group, "enabled", enabled)
}

// Process reads exactly one pending upcall from the backend and handles it.
func (m *Manager) Process() error {
	if !m.Enabled() {
		return nil
	}
	up, err := m.backend.ReadUpcall()
	if err != nil {
		return fmt.Errorf("read upcall: %w", err)
	}
	return m.HandleUpcall(up)
}

// HandleUpcall services a kernel cache-miss by installing a route for the
// (source, group) flow. Messages other than NOCACHE are ignored, as are
// upcalls read during an earlier enable session.
func (m *Manager) HandleUpcall(up Upcall) error {
	m.mu.RLock()
	stale := !m.enabled || (up.session != 0 && up.session != m.session)
	m.mu.RUnlock()
	if stale || up.Type != MsgNoCache {
		return nil
	}

	m.mu.Lock()
	m.stats.Upcalls++
	m.mu.Unlock()

	err := m.addForwardingCache(up.Source, up.Group, up.Mif)
	if err != nil {
		m.mu.Lock()
		m.stats.UpcallErrors++
		m.mu.Unlock()
	}
	return err
}

func (m *Manager) addForwardingCache(src, group netip.Addr, iif Mif) error {
	if iif != MifThread && iif != MifBackbone {
		m.upcallLog.Warn("mroute: upcall on unknown MIF",
			"src", src, "group", group, "iif", uint8(iif))
		return fmt.Errorf("%w: iif %d", ErrInvalidArgument, iif)
	}

	m.Expire()

	oif := m.forwardMif(group, iif)
	route := Route{Source: src, Group: group}
	if err := m.backend.AddRoute(route, iif, oif); err != nil {
		m.mu.Lock()
		m.stats.InstallErrors++
		m.mu.Unlock()
		m.upcallLog.Warn("mroute: add dynamic route failed",
			"src", src, "group", group, "iif", iif, "oif", oif, "err", err)
		return fmt.Errorf("add route %s: %w", route, err)
	}

	m.mu.Lock()
	m.cache.ReplaceOrInsert(RouteEntry{
		Route:     route,
		RouteInfo: RouteInfo{Iif: iif, Oif: oif, LastUse: m.now()},
	})
	m.stats.Installed++
	m.mu.Unlock()

	slog.Info("mroute: add dynamic route",
		"src", src, "group", group, "iif", iif, "oif", oif)
	m.record(logging.EventRouteAdd, RouteEntry{Route: route, RouteInfo: RouteInfo{Iif: iif, Oif: oif}})
	return nil
}

// forwardMif decides where traffic for group arriving on iif goes.
// Backbone traffic reaches Thread only for subscribed groups; Thread
// traffic leaves the mesh only above realm-local scope.
func (m *Manager) forwardMif(group netip.Addr, iif Mif) Mif {
	if iif == MifBackbone {
		m.mu.RLock()
		_, subscribed := m.listeners[group]
		m.mu.RUnlock()
		if subscribed {
			return MifThread
		}
		return MifNone
	}
	if ip6.Scope(group) > ip6.RealmLocal {
		return MifBackbone
	}
	return MifNone
}

func (m *Manager) unblockInbound(group netip.Addr) {
	var blocked []RouteEntry
	m.mu.RLock()
	m.cache.Ascend(func(e RouteEntry) bool {
		if e.Group == group && e.Iif == MifBackbone && e.Oif != MifThread {
			blocked = append(blocked, e)
		}
		return true
	})
	m.mu.RUnlock()

	for _, e := range blocked {
		if err := m.backend.AddRoute(e.Route, MifBackbone, MifThread); err != nil {
			slog.Warn("mroute: unblock inbound route failed",
				"src", e.Source, "group", e.Group, "iif", e.Iif, "oif", MifThread, "err", err)
			continue
		}
		m.mu.Lock()
		m.cache.ReplaceOrInsert(RouteEntry{
			Route:     e.Route,
			RouteInfo: RouteInfo{Iif: MifBackbone, Oif: MifThread, LastUse: m.now()},
		})
		m.stats.Unblocked++
		m.mu.Unlock()
		slog.Info("mroute: unblock inbound route",
			"src", e.Source, "group", e.Group, "iif", e.Iif, "oif", MifThread)
		e.Oif = MifThread
		m.record(logging.EventRouteUnblock, e)
	}
}

func (m *Manager) removeInbound(group netip.Addr) {
	var inbound []RouteEntry
	m.mu.RLock()
	m.cache.Ascend(func(e RouteEntry) bool {
		if e.Group == group && e.Iif == MifBackbone {
			inbound = append(inbound, e)
		}
		return true
	})
	m.mu.RUnlock()

	for _, e := range inbound {
		if !m.deleteRoute(e) {
			continue
		}
		m.mu.Lock()
		m.stats.Removed++
		m.mu.Unlock()
		m.record(logging.EventRouteDelete, e)
	}
}

// deleteRoute removes e from the backend and, when the backend no longer
// holds it, from the cache. It reports whether the entry was erased.
func (m *Manager) deleteRoute(e RouteEntry) bool {
	err := m.backend.DelRoute(e.Route, e.Iif)
	if err != nil && !errors.Is(err, ErrRouteNotFound) {
		slog.Warn("mroute: delete route failed",
			"src", e.Source, "group", e.Group, "iif", e.Iif, "oif", e.Oif, "err", err)
		return false
	}
	m.mu.Lock()
	m.cache.Delete(e)
	m.mu.Unlock()
	slog.Info("mroute: delete route",
		"src", e.Source, "group", e.Group, "iif", e.Iif, "oif", e.Oif, "found", err == nil)
	return true
}

// Expire checks every entry idle for longer than the expire timeout. Entries
// whose valid packet count moved are refreshed; the rest are deleted.
func (m *Manager) Expire() {
	if !m.Enabled() {
		return
	}
	now := m.now()

	var idle []RouteEntry
	m.mu.RLock()
	m.cache.Ascend(func(e RouteEntry) bool {
		if e.LastUse.Add(m.expireTimeout).Before(now) {
			idle = append(idle, e)
		}
		return true
	})
	m.mu.RUnlock()

	for _, e := range idle {
		if m.refresh(e) {
			continue
		}
		if m.deleteRoute(e) {
			m.mu.Lock()
			m.stats.Expired++
			m.mu.Unlock()
			m.record(logging.EventRouteExpire, e)
		}
	}

	m.dump()
}

// refresh queries the counters of e and updates its entry if traffic was
// forwarded since the last check.
func (m *Manager) refresh(e RouteEntry) bool {
	c, err := m.backend.Counters(e.Route)
	if err != nil {
		slog.Warn("mroute: query route counters failed",
			"src", e.Source, "group", e.Group, "err", err)
		return false
	}
	slog.Debug("mroute: route counters",
		"src", e.Source, "group", e.Group,
		"bytes", c.Bytes, "packets", c.Packets, "wrong_if", c.WrongIf)

	valid := c.Valid()
	if valid == e.ValidPackets {
		return false
	}
	e.ValidPackets = valid
	e.LastUse = m.now()
	m.mu.Lock()
	m.cache.ReplaceOrInsert(e)
	m.mu.Unlock()
	return true
}

func (m *Manager) record(typ string, e RouteEntry) {
	if m.events == nil {
		return
	}
	m.events.Add(logging.EventRecord{
		Time:    m.now(),
		Type:    typ,
		Source:  e.Source.String(),
		Group:   e.Group.String(),
		Iif:     e.Iif.String(),
		Oif:     e.Oif.String(),
		Packets: e.ValidPackets,
	})
}

func (m *Manager) dump() {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	routes := m.Routes()
	slog.Debug("mroute: forwarding cache", "entries", len(routes))
	for _, e := range routes {
		slog.Debug("mroute: mfc entry",
			"iif", e.Iif, "src", e.Source, "group", e.Group, "oif", e.Oif)
	}
}

// Routes returns a copy of the forwarding cache ordered by group and source.
func (m *Manager) Routes() []RouteEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RouteEntry, 0, m.cache.Len())
	m.cache.Ascend(func(e RouteEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Listeners returns the registered groups in address order.
func (m *Manager) Listeners() []netip.Addr {
	m.mu.RLock()
	out := make([]netip.Addr, 0, len(m.listeners))
	for g := range m.listeners {
		out = append(out, g)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, netip.Addr.Compare)
	return out
}

// Stats returns a snapshot of the activity counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Manager) readUpcalls(session uint64, stop <-chan struct{}) {
	for {
		up, err := m.backend.ReadUpcall()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, ErrClosed) {
				return
			}
			if errors.Is(err, ErrShortMessage) || errors.Is(err, ErrMalformed) || errors.Is(err, ErrInvalidArgument) {
				m.upcallLog.Debug("mroute: dropping upcall", "err", err)
				continue
			}
			slog.Warn("mroute: upcall reader stopped", "err", err)
			return
		}
		up.session = session
		select {
		case m.upcalls <- up:
		case <-stop:
			return
		}
	}
}
