// Package backbone implements the Backbone Router role state machine that
// arms multicast forwarding while the node is Primary.
package backbone

import (
	"context"
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"github.com/psaab/bbrd/pkg/mroute"
)

// Forwarder programs multicast forwarding between the Thread and Backbone
// interfaces. Add and Remove panic when the listener table contract is
// violated (duplicate add, unknown remove).
type Forwarder interface {
	Enable(ctx context.Context, ifaces mroute.Interfaces) error
	Disable() error
	Add(group netip.Addr)
	Remove(group netip.Addr)
	Listeners() []netip.Addr
}

// EventHandler receives notifications from the Thread stack.
type EventHandler interface {
	OnRoleChanged(ctx context.Context, role Role)
	OnListenerAdded(group netip.Addr)
	OnListenerRemoved(group netip.Addr)
}

// Agent follows the Backbone Router role and drives the forwarders.
// Notifications must come from a single goroutine.
type Agent struct {
	ifaces     mroute.Interfaces
	forwarders []Forwarder

	mu   sync.RWMutex
	role Role

	eventCh chan RoleEvent
}

var _ EventHandler = (*Agent)(nil)

// NewAgent creates an agent in the Disabled role.
func NewAgent(ifaces mroute.Interfaces, forwarders ...Forwarder) *Agent {
	return &Agent{
		ifaces:     ifaces,
		forwarders: forwarders,
		role:       RoleDisabled,
		eventCh:    make(chan RoleEvent, 64),
	}
}

// Role returns the current role.
func (a *Agent) Role() Role {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.role
}

// IsPrimary reports whether the node currently forwards multicast.
func (a *Agent) IsPrimary() bool { return a.Role() == RolePrimary }

// Events returns the channel of role transitions.
func (a *Agent) Events() <-chan RoleEvent { return a.eventCh }

// OnRoleChanged records the new role. Entering Primary enables every
// forwarder; leaving it disables them.
func (a *Agent) OnRoleChanged(ctx context.Context, role Role) {
	a.mu.Lock()
	old := a.role
	a.role = role
	a.mu.Unlock()

	slog.Debug("backbone: role notification", "old", old, "new", role)
	if old == role {
		return
	}

	switch {
	case old != RolePrimary && role == RolePrimary:
		a.becomePrimary(ctx)
	case old == RolePrimary && role != RolePrimary:
		a.resignPrimary(role)
	}

	select {
	case a.eventCh <- RoleEvent{Old: old, New: role}:
	default:
		slog.Warn("backbone: event channel full, dropping event", "old", old, "new", role)
	}
}

func (a *Agent) becomePrimary(ctx context.Context) {
	slog.Info("backbone: becoming primary", "interfaces", a.ifaces)
	for _, f := range a.forwarders {
		if err := f.Enable(ctx, a.ifaces); err != nil {
			slog.Error("backbone: enable forwarding failed", "err", err)
		}
	}
}

func (a *Agent) resignPrimary(to Role) {
	slog.Info("backbone: resigning primary", "to", to)
	for _, f := range a.forwarders {
		if err := f.Disable(); err != nil {
			slog.Error("backbone: disable forwarding failed", "err", err)
		}
	}
}

// OnListenerAdded forwards a listener registration while Primary.
func (a *Agent) OnListenerAdded(group netip.Addr) {
	primary := a.IsPrimary()
	slog.Info("backbone: multicast listener added", "group", group, "primary", primary)
	if !primary {
		return
	}
	for _, f := range a.forwarders {
		f.Add(group)
	}
}

// OnListenerRemoved forwards a listener removal while Primary.
func (a *Agent) OnListenerRemoved(group netip.Addr) {
	primary := a.IsPrimary()
	slog.Info("backbone: multicast listener removed", "group", group, "primary", primary)
	if !primary {
		return
	}
	for _, f := range a.forwarders {
		f.Remove(group)
	}
}

// HasListener reports whether group is in the forwarders' listener table.
func (a *Agent) HasListener(group netip.Addr) bool {
	if len(a.forwarders) == 0 {
		return false
	}
	return slices.Contains(a.forwarders[0].Listeners(), group)
}

// Resign drops the Primary role, if held, ahead of shutdown.
func (a *Agent) Resign() {
	a.OnRoleChanged(context.Background(), RoleDisabled)
}
