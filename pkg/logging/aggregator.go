package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// GroupAggregator tracks forwarding cache activity per multicast group and
// source and periodically reports the busiest ones.
type GroupAggregator struct {
	mu     sync.Mutex
	groups map[string]*aggEntry // group -> stats
	srcs   map[string]*aggEntry // source -> stats

	flushInterval time.Duration
	topN          int
	logFn         func(severity int, msg string) // where to send aggregate reports
}

type aggEntry struct {
	Flows   uint64
	Packets uint64
}

// AggregateEntry is a single top-N entry returned by Flush.
type AggregateEntry struct {
	Addr    string
	Flows   uint64
	Packets uint64
}

// NewGroupAggregator creates a new aggregator.
// flushInterval controls how often top-N stats are emitted (default 5min).
// topN controls how many entries per category (default 10).
func NewGroupAggregator(flushInterval time.Duration, topN int) *GroupAggregator {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Minute
	}
	if topN <= 0 {
		topN = 10
	}
	return &GroupAggregator{
		groups:        make(map[string]*aggEntry),
		srcs:          make(map[string]*aggEntry),
		flushInterval: flushInterval,
		topN:          topN,
	}
}

// SetLogFunc sets the function used to emit aggregate log lines.
func (ga *GroupAggregator) SetLogFunc(fn func(severity int, msg string)) {
	ga.mu.Lock()
	ga.logFn = fn
	ga.mu.Unlock()
}

// Add records a forwarding cache event. MFC_ADD counts a flow; MFC_EXPIRE
// and MFC_DELETE contribute the packets the entry carried.
func (ga *GroupAggregator) Add(rec EventRecord) {
	var flows, packets uint64
	switch rec.Type {
	case EventRouteAdd:
		flows = 1
	case EventRouteExpire, EventRouteDelete:
		packets = rec.Packets
	default:
		return
	}

	ga.mu.Lock()
	defer ga.mu.Unlock()
	bump(ga.groups, rec.Group, flows, packets)
	bump(ga.srcs, rec.Source, flows, packets)
}

func bump(m map[string]*aggEntry, key string, flows, packets uint64) {
	if key == "" {
		return
	}
	if e, ok := m[key]; ok {
		e.Flows += flows
		e.Packets += packets
		return
	}
	m[key] = &aggEntry{Flows: flows, Packets: packets}
}

// Flush returns the top-N groups and sources by flow count, then resets
// counters.
func (ga *GroupAggregator) Flush() (topGroups, topSrcs []AggregateEntry) {
	ga.mu.Lock()
	groups := ga.groups
	srcs := ga.srcs
	ga.groups = make(map[string]*aggEntry)
	ga.srcs = make(map[string]*aggEntry)
	ga.mu.Unlock()

	topGroups = topEntries(groups, ga.topN)
	topSrcs = topEntries(srcs, ga.topN)
	return
}

// Run starts the periodic flush loop. Blocks until ctx is cancelled.
func (ga *GroupAggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(ga.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ga.flushAndLog()
		}
	}
}

func (ga *GroupAggregator) flushAndLog() {
	topGroups, topSrcs := ga.Flush()

	if len(topGroups) == 0 && len(topSrcs) == 0 {
		return
	}

	ga.mu.Lock()
	logFn := ga.logFn
	ga.mu.Unlock()

	for _, e := range topGroups {
		msg := fmt.Sprintf("MFC_GROUP_AGGREGATE top-group=%q flows=%d packets=%d",
			e.Addr, e.Flows, e.Packets)
		if logFn != nil {
			logFn(SyslogInfo, msg)
		}
		slog.Info(msg)
	}
	for _, e := range topSrcs {
		msg := fmt.Sprintf("MFC_GROUP_AGGREGATE top-source=%q flows=%d packets=%d",
			e.Addr, e.Flows, e.Packets)
		if logFn != nil {
			logFn(SyslogInfo, msg)
		}
		slog.Info(msg)
	}
}

func topEntries(m map[string]*aggEntry, n int) []AggregateEntry {
	if len(m) == 0 {
		return nil
	}
	entries := make([]AggregateEntry, 0, len(m))
	for addr, e := range m {
		entries = append(entries, AggregateEntry{Addr: addr, Flows: e.Flows, Packets: e.Packets})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Flows != entries[j].Flows {
			return entries[i].Flows > entries[j].Flows
		}
		if entries[i].Packets != entries[j].Packets {
			return entries[i].Packets > entries[j].Packets
		}
		return entries[i].Addr < entries[j].Addr
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
