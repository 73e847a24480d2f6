package mroute

import (
	"errors"
	"net/netip"
	"sync"
)

type fakeRoute struct {
	iif, oif Mif
}

// fakeBackend is an in-memory forwarding plane.
type fakeBackend struct {
	mu       sync.Mutex
	open     bool
	opens    int
	closes   int
	ifaces   Interfaces
	routes   map[Route]fakeRoute
	counters map[Route]Counters

	openErr    error
	addErr     error
	delErr     map[Route]error
	countErr   map[Route]error
	adds, dels int

	incoming chan Upcall
	closed   chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		routes:   make(map[Route]fakeRoute),
		counters: make(map[Route]Counters),
		delErr:   make(map[Route]error),
		countErr: make(map[Route]error),
		incoming: make(chan Upcall, 8),
	}
}

func (f *fakeBackend) Open(ifaces Interfaces) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	f.ifaces = ifaces
	f.closed = make(chan struct{})
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if !f.open {
		return ErrClosed
	}
	f.open = false
	f.routes = make(map[Route]fakeRoute)
	close(f.closed)
	return nil
}

func (f *fakeBackend) AddRoute(r Route, iif, oif Mif) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	if !f.open {
		return ErrClosed
	}
	if f.addErr != nil {
		return f.addErr
	}
	f.routes[r] = fakeRoute{iif: iif, oif: oif}
	return nil
}

func (f *fakeBackend) DelRoute(r Route, iif Mif) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dels++
	if err := f.delErr[r]; err != nil {
		return err
	}
	got, ok := f.routes[r]
	if !ok || got.iif != iif {
		return ErrRouteNotFound
	}
	delete(f.routes, r)
	return nil
}

func (f *fakeBackend) Counters(r Route) (Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.countErr[r]; err != nil {
		return Counters{}, err
	}
	return f.counters[r], nil
}

func (f *fakeBackend) ReadUpcall() (Upcall, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed == nil {
		return Upcall{}, ErrClosed
	}
	select {
	case u := <-f.incoming:
		return u, nil
	case <-closed:
		return Upcall{}, ErrClosed
	}
}

func (f *fakeBackend) route(src, group string) (fakeRoute, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[Route{Source: netip.MustParseAddr(src), Group: netip.MustParseAddr(group)}]
	return r, ok
}

func (f *fakeBackend) setCounters(src, group string, c Counters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[Route{Source: netip.MustParseAddr(src), Group: netip.MustParseAddr(group)}] = c
}

var errBusy = errors.New("device busy")
