package mroute

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

var (
	// ErrInvalidArgument is returned for upcalls naming an unknown MIF.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRouteNotFound is returned by a Backend when deleting an entry the
	// forwarding plane does not know about.
	ErrRouteNotFound = errors.New("route not found")
	// ErrClosed is returned by a Backend used after Close.
	ErrClosed = errors.New("backend closed")
	// ErrShortMessage is returned when an upcall is shorter than mrt6msg.
	ErrShortMessage = errors.New("short upcall message")
	// ErrMalformed is returned for upcalls with a non-zero mbz field.
	ErrMalformed = errors.New("malformed upcall message")
)

// Mif is a multicast virtual interface index.
type Mif uint8

const (
	MifThread   Mif = 0
	MifBackbone Mif = 1
	MifNone     Mif = 0xff
)

func (m Mif) String() string {
	switch m {
	case MifThread:
		return "Thread"
	case MifBackbone:
		return "Backbone"
	case MifNone:
		return "None"
	default:
		return "Unknown"
	}
}

// Interfaces names the two network interfaces registered as MIFs.
type Interfaces struct {
	Thread   string
	Backbone string
}

func (i Interfaces) String() string {
	return fmt.Sprintf("thread=%s backbone=%s", i.Thread, i.Backbone)
}

// Route identifies a multicast forwarding cache entry.
type Route struct {
	Source netip.Addr
	Group  netip.Addr
}

// Less orders routes by group, then by source.
func (r Route) Less(o Route) bool {
	if c := r.Group.Compare(o.Group); c != 0 {
		return c < 0
	}
	return r.Source.Compare(o.Source) < 0
}

func (r Route) String() string {
	return r.Source.String() + " => " + r.Group.String()
}

// RouteInfo is the state kept for each installed route.
type RouteInfo struct {
	Iif          Mif
	Oif          Mif // MifNone: accounted and dropped
	LastUse      time.Time
	ValidPackets uint64
}

// RouteEntry is a Route with its RouteInfo.
type RouteEntry struct {
	Route
	RouteInfo
}

// Counters are the per-(S,G) usage counters reported by the kernel.
type Counters struct {
	Packets uint64
	Bytes   uint64
	WrongIf uint64
}

// Valid returns the number of packets that arrived on the expected MIF.
func (c Counters) Valid() uint64 {
	return c.Packets - c.WrongIf
}

// Backend programs multicast forwarding entries into a forwarding plane.
type Backend interface {
	// Open prepares the backend and registers both interfaces as MIFs.
	Open(ifaces Interfaces) error
	// Close discards every entry installed since Open.
	Close() error
	// AddRoute installs or replaces an entry. oif may be MifNone.
	AddRoute(r Route, iif, oif Mif) error
	// DelRoute removes an entry. Unknown entries yield ErrRouteNotFound.
	DelRoute(r Route, iif Mif) error
	// Counters returns the usage counters of an entry.
	Counters(r Route) (Counters, error)
	// ReadUpcall blocks until the next upcall arrives.
	ReadUpcall() (Upcall, error)
}
