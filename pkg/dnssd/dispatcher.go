package dnssd

import (
	"log/slog"
	"sync"
)

// Dispatcher implements the bookkeeping half of a Discoverer: it tracks
// subscriptions and delivers instances whose service type or full instance
// name is subscribed. Discovery backends embed it and call Deliver.
type Dispatcher struct {
	subs *Subscriptions

	mu      sync.RWMutex
	handler InstanceHandler
}

// NewDispatcher returns a dispatcher with no subscriptions.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: NewSubscriptions()}
}

func (d *Dispatcher) Subscribe(name string) {
	if d.subs.Subscribe(name) {
		slog.Info("dnssd: subscribed", "name", name)
	}
}

func (d *Dispatcher) Unsubscribe(name string) error {
	last, err := d.subs.Unsubscribe(name)
	if err != nil {
		return err
	}
	if last {
		slog.Info("dnssd: unsubscribed", "name", name)
	}
	return nil
}

func (d *Dispatcher) SetInstanceHandler(h InstanceHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Subscriptions exposes the underlying subscription set.
func (d *Dispatcher) Subscriptions() *Subscriptions { return d.subs }

// Deliver hands inst to the handler if anyone subscribed to it. It reports
// whether the instance was delivered.
func (d *Dispatcher) Deliver(inst Instance) bool {
	if !d.subs.Subscribed(inst.Type) && !d.subs.Subscribed(inst.FullName()) {
		slog.Debug("dnssd: instance not subscribed", "instance", inst.FullName())
		return false
	}
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h == nil {
		return false
	}
	h(inst)
	return true
}

var _ Discoverer = (*Dispatcher)(nil)
