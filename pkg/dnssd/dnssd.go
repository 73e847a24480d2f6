// Package dnssd keeps the subscription bookkeeping shared by DNS-SD
// discovery proxies. Browsing and resolving are done by the proxy itself;
// this package only tracks which names are wanted and routes discovered
// instances to the subscribers.
package dnssd

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"
)

// ErrNotFound is returned when unsubscribing a name that has no subscribers.
var ErrNotFound = errors.New("dnssd: subscription not found")

// Instance is a resolved service instance.
type Instance struct {
	Type      string // e.g. "_meshcop._udp"
	Name      string // instance label
	Host      string
	Addresses []netip.Addr
	Port      uint16
	Priority  uint16
	Weight    uint16
	TTL       uint32
	TXT       []byte
}

// FullName returns "<name>.<type>".
func (i Instance) FullName() string {
	if i.Name == "" {
		return i.Type
	}
	return i.Name + "." + i.Type
}

func (i Instance) String() string {
	return fmt.Sprintf("%s host=%s port=%d", i.FullName(), i.Host, i.Port)
}

// InstanceHandler is called for every discovered instance of a subscribed name.
type InstanceHandler func(Instance)

// Discoverer is implemented by DNS-SD discovery backends.
type Discoverer interface {
	// Subscribe starts browsing name. Subscriptions are reference counted.
	Subscribe(name string)
	// Unsubscribe drops one reference to name.
	Unsubscribe(name string) error
	// SetInstanceHandler installs the discovered-instance callback.
	SetInstanceHandler(h InstanceHandler)
}

// Subscriptions is a reference-counted set of subscribed names. Names are
// compared case-insensitively. It is safe for concurrent use.
type Subscriptions struct {
	mu    sync.Mutex
	names map[string]int
}

// NewSubscriptions returns an empty set.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{names: make(map[string]int)}
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// Subscribe adds a reference to name and reports whether it is the first.
func (s *Subscriptions) Subscribe(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := canonical(name)
	s.names[key]++
	return s.names[key] == 1
}

// Unsubscribe drops a reference to name and reports whether it was the last.
func (s *Subscriptions) Unsubscribe(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := canonical(name)
	n, ok := s.names[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if n == 1 {
		delete(s.names, key)
		return true, nil
	}
	s.names[key] = n - 1
	return false, nil
}

// Subscribed reports whether name has at least one subscriber.
func (s *Subscriptions) Subscribed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[canonical(name)] > 0
}

// Count returns the number of references held on name.
func (s *Subscriptions) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[canonical(name)]
}

// Names returns the subscribed names, sorted.
func (s *Subscriptions) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	s.mu.Unlock()
	slices.Sort(out)
	return out
}
