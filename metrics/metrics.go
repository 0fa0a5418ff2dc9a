// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package metrics defines a concurrently-accessible collector for the
// activity counters of a zpipe.
//
// A *metrics.M value tracks integer counters and maximum values under
// caller-assigned names. The names used by the zpipe package are defined as
// constants here; the collector does not otherwise interpret them.
package metrics

import (
	"sort"
	"sync"
)

// Names of the metrics recorded by a zpipe.
const (
	NoticesReceived  = "notices_received"  // notices decoded from the gateway
	NoticesDropped   = "notices_dropped"   // notices discarded by text decoding
	RecordsSkipped   = "records_skipped"   // records of unknown type
	HandlerPanics    = "handler_panics"    // handler calls that panicked
	CommandsSent     = "commands_sent"     // commands written to the gateway
	BytesWritten     = "bytes_written"     // bytes written to the gateway
	HandlersInFlight = "handlers_inflight" // handlers running concurrently
)

// An M collects counters and maximum value trackers. A nil *M is valid, and
// discards all metrics. The methods of an *M are safe for concurrent use by
// multiple goroutines.
type M struct {
	mu      sync.Mutex
	counter map[string]int64
	maxVal  map[string]int64
}

// New creates a new, empty metrics collector.
func New() *M {
	return &M{counter: make(map[string]int64), maxVal: make(map[string]int64)}
}

// Count adds n to the current value of the counter named, defining the counter
// if it does not already exist.
func (m *M) Count(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.counter[name] += n
	}
}

// SetMaxValue sets the maximum value metric named to the greater of n and its
// current value, defining the value if it does not already exist.
func (m *M) SetMaxValue(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n > m.maxVal[name] {
			m.maxVal[name] = n
		}
	}
}

// Counter returns the current value of the counter named, or 0.
func (m *M) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter[name]
}

// MaxValue returns the current value of the maximum tracker named, or 0.
func (m *M) MaxValue(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxVal[name]
}

// Snapshot copies an atomic snapshot of the counters and max value trackers
// into the provided non-nil maps.
func (m *M) Snapshot(counters, maxValues map[string]int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		for name, val := range m.counter {
			counters[name] = val
		}
		for name, val := range m.maxVal {
			maxValues[name] = val
		}
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
