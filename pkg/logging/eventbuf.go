package logging

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Event types recorded in the event buffer.
const (
	EventRoleChange     = "ROLE_CHANGE"
	EventListenerAdd    = "LISTENER_ADD"
	EventListenerRemove = "LISTENER_REMOVE"
	EventRouteAdd       = "MFC_ADD"
	EventRouteUnblock   = "MFC_UNBLOCK"
	EventRouteDelete    = "MFC_DELETE"
	EventRouteExpire    = "MFC_EXPIRE"
	EventForwarding     = "FORWARDING"
)

// EventRecord is a forwarding event stored in the event buffer.
type EventRecord struct {
	Time    time.Time
	Type    string
	Source  string // route source address
	Group   string // multicast group
	Iif     string // "Thread", "Backbone"
	Oif     string // "Thread", "Backbone", "None"
	Role    string // for ROLE_CHANGE
	Packets uint64 // valid packets seen, for MFC_EXPIRE
	Detail  string
}

// Attrs renders the populated fields of r as key=value pairs.
func (r EventRecord) Attrs() string {
	var parts []string
	if r.Role != "" {
		parts = append(parts, "role="+r.Role)
	}
	if r.Source != "" {
		parts = append(parts, "src="+r.Source)
	}
	if r.Group != "" {
		parts = append(parts, "group="+r.Group)
	}
	if r.Iif != "" {
		parts = append(parts, "iif="+r.Iif, "oif="+r.Oif)
	}
	if r.Packets != 0 {
		parts = append(parts, "packets="+strconv.FormatUint(r.Packets, 10))
	}
	if r.Detail != "" {
		parts = append(parts, r.Detail)
	}
	return strings.Join(parts, " ")
}

// Message renders r as a single log line without timestamp.
func (r EventRecord) Message() string {
	if attrs := r.Attrs(); attrs != "" {
		return r.Type + " " + attrs
	}
	return r.Type
}

// EventBuffer is a thread-safe circular buffer for recent events.
type EventBuffer struct {
	mu    sync.RWMutex
	buf   []EventRecord
	size  int
	head  int // next write position
	count int // number of events stored
	seq   uint64

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

// Subscription receives new events from an EventBuffer.
type Subscription struct {
	C  chan EventRecord
	eb *EventBuffer
}

// Close unsubscribes. The channel is left open.
func (s *Subscription) Close() {
	s.eb.unsubscribe(s)
}

// NewEventBuffer creates a new event buffer with the given capacity.
func NewEventBuffer(size int) *EventBuffer {
	if size < 1 {
		size = 1
	}
	return &EventBuffer{
		buf:  make([]EventRecord, size),
		size: size,
		subs: make(map[*Subscription]struct{}),
	}
}

// Add appends an event to the buffer, overwriting the oldest if full.
// A zero Time is stamped with the current time. Slow subscribers miss
// events rather than blocking the caller.
func (eb *EventBuffer) Add(rec EventRecord) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	eb.mu.Lock()
	eb.buf[eb.head] = rec
	eb.head = (eb.head + 1) % eb.size
	if eb.count < eb.size {
		eb.count++
	}
	eb.seq++
	eb.mu.Unlock()

	eb.subMu.RLock()
	for sub := range eb.subs {
		select {
		case sub.C <- rec:
		default:
		}
	}
	eb.subMu.RUnlock()
}

// Seq returns the number of events ever added.
func (eb *EventBuffer) Seq() uint64 {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.seq
}

// Subscribe returns a Subscription that receives new events.
// Call Close() on the subscription when done.
func (eb *EventBuffer) Subscribe(bufSize int) *Subscription {
	if bufSize < 1 {
		bufSize = 64
	}
	sub := &Subscription{
		C:  make(chan EventRecord, bufSize),
		eb: eb,
	}
	eb.subMu.Lock()
	eb.subs[sub] = struct{}{}
	eb.subMu.Unlock()
	return sub
}

func (eb *EventBuffer) unsubscribe(sub *Subscription) {
	eb.subMu.Lock()
	delete(eb.subs, sub)
	eb.subMu.Unlock()
}

// EventFilter specifies criteria for filtering events.
type EventFilter struct {
	Type  string // case-insensitive prefix match on Type ("mfc" matches every MFC_*)
	Group string // exact match on Group
}

// IsEmpty returns true if no filter criteria are set.
func (f EventFilter) IsEmpty() bool {
	return f.Type == "" && f.Group == ""
}

// Matches reports whether rec passes the filter.
func (f EventFilter) Matches(rec *EventRecord) bool {
	if f.Type != "" && !strings.HasPrefix(rec.Type, strings.ToUpper(f.Type)) {
		return false
	}
	if f.Group != "" && rec.Group != f.Group {
		return false
	}
	return true
}

// LatestFiltered returns the most recent n events matching the filter, newest first.
func (eb *EventBuffer) LatestFiltered(n int, f EventFilter) []EventRecord {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if n <= 0 {
		return nil
	}

	var result []EventRecord
	for i := 0; i < eb.count && len(result) < n; i++ {
		idx := (eb.head - 1 - i + eb.size) % eb.size
		if f.Matches(&eb.buf[idx]) {
			result = append(result, eb.buf[idx])
		}
	}
	return result
}

// Latest returns the most recent n events, newest first.
func (eb *EventBuffer) Latest(n int) []EventRecord {
	return eb.LatestFiltered(n, EventFilter{})
}
