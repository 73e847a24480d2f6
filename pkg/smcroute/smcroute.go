// Package smcroute forwards Backbone multicast to the Thread network by
// driving the smcroute daemon through smcroutectl.
//
// Unlike the kernel routing manager it keeps no forwarding cache: smcroute
// installs kernel routes on its own, this package only keeps its rule set in
// step with the listener table.
package smcroute

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/psaab/bbrd/pkg/mroute"
)

const (
	// DefaultReadyTimeout bounds the wait for smcroute to accept commands.
	DefaultReadyTimeout = 10 * time.Second
	// DefaultPollInterval is the delay between readiness probes.
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultCommandTimeout bounds a single smcroutectl invocation.
	DefaultCommandTimeout = 5 * time.Second

	// outboundGroup matches every group scoped above admin-local
	// (0xfff0 = 65520 as smcroute's group-length notation).
	outboundGroup = "65520"
)

// Manager keeps smcroute rules in step with the listener table.
type Manager struct {
	runner       Runner
	readyTimeout time.Duration
	pollInterval time.Duration

	ifaces mroute.Interfaces

	// mu guards enabled and listeners for readers outside the event loop.
	mu        sync.RWMutex
	enabled   bool
	listeners map[netip.Addr]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(m *Manager) { m.runner = r }
}

// WithReadyTimeout sets how long Start waits for the daemon.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) { m.readyTimeout = d }
}

// WithPollInterval sets the delay between readiness probes in Start.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// New creates a smcroute manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		runner:       ExecRunner{Timeout: DefaultCommandTimeout},
		readyTimeout: DefaultReadyTimeout,
		pollInterval: DefaultPollInterval,
		listeners:    make(map[netip.Addr]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start restarts the smcroute service and waits until smcroutectl accepts
// commands.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.runner.Run(ctx, "systemctl", "restart", "smcroute"); err != nil {
		return fmt.Errorf("restart smcroute: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.readyTimeout)
	defer cancel()

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return m.flush(ctx)
	}, backoff.WithContext(backoff.NewConstantBackOff(m.pollInterval), ctx))
	if err != nil {
		return fmt.Errorf("smcroute not ready after %s: %w", m.readyTimeout, err)
	}
	slog.Info("smcroute: daemon ready", "attempts", attempts)
	return nil
}

// Enable installs the outbound rule and one inbound rule per listener.
// It is a no-op when already enabled.
func (m *Manager) Enable(ctx context.Context, ifaces mroute.Interfaces) error {
	if m.Enabled() {
		return nil
	}
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	m.ifaces = ifaces

	err := m.enable(ctx)
	if err != nil {
		slog.Error("smcroute: enable failed", "interfaces", ifaces, "err", err)
		return err
	}
	slog.Info("smcroute: enabled", "interfaces", ifaces, "listeners", len(m.listeners))
	return nil
}

func (m *Manager) enable(ctx context.Context) error {
	m.flushLogged(ctx)
	if err := m.allowOutbound(ctx); err != nil {
		return err
	}
	for _, group := range m.Listeners() {
		if err := m.addRoute(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

// Disable removes every rule installed by Enable. It is a no-op when
// already disabled.
func (m *Manager) Disable() error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()

	ctx := context.Background()
	err := m.disable(ctx)
	if err != nil {
		slog.Error("smcroute: disable failed", "err", err)
		return err
	}
	slog.Info("smcroute: disabled")
	return nil
}

func (m *Manager) disable(ctx context.Context) error {
	m.flushLogged(ctx)
	for _, group := range m.Listeners() {
		if err := m.delRoute(ctx, group); err != nil {
			return err
		}
	}
	return m.forbidOutbound(ctx)
}

// Add records a new listener group and, when enabled, installs its rule.
// Adding a group twice is a programming error.
func (m *Manager) Add(group netip.Addr) {
	m.mu.Lock()
	_, dup := m.listeners[group]
	m.listeners[group] = struct{}{}
	enabled := m.enabled
	m.mu.Unlock()
	if dup {
		panic(fmt.Sprintf("smcroute: listener %s already present", group))
	}
	if !enabled {
		return
	}

	ctx := context.Background()
	m.flushLogged(ctx)
	if err := m.addRoute(ctx, group); err != nil {
		slog.Error("smcroute: add route failed", "group", group, "err", err)
		return
	}
	slog.Info("smcroute: route added", "group", group)
}

// Remove forgets a listener group and, when enabled, deletes its rule.
// Removing an unknown group is a programming error.
func (m *Manager) Remove(group netip.Addr) {
	m.mu.Lock()
	_, ok := m.listeners[group]
	delete(m.listeners, group)
	enabled := m.enabled
	m.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("smcroute: listener %s not present", group))
	}
	if !enabled {
		return
	}

	ctx := context.Background()
	m.flushLogged(ctx)
	if err := m.delRoute(ctx, group); err != nil {
		slog.Error("smcroute: delete route failed", "group", group, "err", err)
		return
	}
	slog.Info("smcroute: route deleted", "group", group)
}

// Enabled reports whether rules are currently installed.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Listeners returns the listener groups in address order.
func (m *Manager) Listeners() []netip.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]netip.Addr, 0, len(m.listeners))
	for g := range m.listeners {
		out = append(out, g)
	}
	slices.SortFunc(out, netip.Addr.Compare)
	return out
}

func (m *Manager) ctl(ctx context.Context, args ...string) error {
	return m.runner.Run(ctx, "smcroutectl", args...)
}

func (m *Manager) flush(ctx context.Context) error {
	return m.ctl(ctx, "flush")
}

func (m *Manager) flushLogged(ctx context.Context) {
	if err := m.flush(ctx); err != nil {
		slog.Warn("smcroute: flush failed", "err", err)
	}
}

func (m *Manager) allowOutbound(ctx context.Context) error {
	return m.ctl(ctx, "add", m.ifaces.Thread, "::", "::", outboundGroup, m.ifaces.Backbone)
}

func (m *Manager) forbidOutbound(ctx context.Context) error {
	return m.ctl(ctx, "remove", m.ifaces.Thread, "::", "::", outboundGroup, m.ifaces.Backbone)
}

func (m *Manager) addRoute(ctx context.Context, group netip.Addr) error {
	return m.ctl(ctx, "add", m.ifaces.Backbone, "::", group.StringExpanded(), m.ifaces.Thread)
}

func (m *Manager) delRoute(ctx context.Context, group netip.Addr) error {
	return m.ctl(ctx, "del", m.ifaces.Backbone, "::", group.StringExpanded(), m.ifaces.Thread)
}
