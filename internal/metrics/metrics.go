// Package metrics holds the service counters and exposes them in Prometheus text format.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics exposes counters and gauges for clone requests, clip retrieval and retention.
// All methods are safe on a nil receiver.
type Metrics struct {
	cloneRequests atomic.Int64
	cloneSuccess  atomic.Int64

	synthesisNanos atomic.Int64
	synthesisCount atomic.Int64

	clipFetches  atomic.Int64
	clipNotFound atomic.Int64

	retentionRemoved atomic.Int64

	mu       sync.Mutex
	failures map[string]int64
}

// NewMetrics constructs an empty Metrics collection.
func NewMetrics() *Metrics {
	return &Metrics{failures: make(map[string]int64)}
}

// IncCloneRequests counts an accepted POST /clone.
func (m *Metrics) IncCloneRequests() {
	if m == nil {
		return
	}
	m.cloneRequests.Add(1)
}

// CloneRequests reports the number of clone requests received.
func (m *Metrics) CloneRequests() int64 {
	if m == nil {
		return 0
	}
	return m.cloneRequests.Load()
}

// IncCloneSuccess counts a published clip.
func (m *Metrics) IncCloneSuccess() {
	if m == nil {
		return
	}
	m.cloneSuccess.Add(1)
}

// CloneSuccess reports the number of clips published.
func (m *Metrics) CloneSuccess() int64 {
	if m == nil {
		return 0
	}
	return m.cloneSuccess.Load()
}

// IncCloneFailure counts a failed clone request by failure kind.
func (m *Metrics) IncCloneFailure(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.failures[kind]++
	m.mu.Unlock()
}

// CloneFailures returns a copy of the failure counters keyed by kind.
func (m *Metrics) CloneFailures() map[string]int64 {
	out := make(map[string]int64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	for k, v := range m.failures {
		out[k] = v
	}
	m.mu.Unlock()
	return out
}

// ObserveSynthesis records the duration of one model call.
func (m *Metrics) ObserveSynthesis(d time.Duration) {
	if m == nil {
		return
	}
	m.synthesisNanos.Add(int64(d))
	m.synthesisCount.Add(1)
}

// Synthesis reports the total model time and number of model calls.
func (m *Metrics) Synthesis() (time.Duration, int64) {
	if m == nil {
		return 0, 0
	}
	return time.Duration(m.synthesisNanos.Load()), m.synthesisCount.Load()
}

// IncClipFetches counts a served clip.
func (m *Metrics) IncClipFetches() {
	if m == nil {
		return
	}
	m.clipFetches.Add(1)
}

// ClipFetches reports the number of clips served.
func (m *Metrics) ClipFetches() int64 {
	if m == nil {
		return 0
	}
	return m.clipFetches.Load()
}

// IncClipNotFound counts a retrieval for a missing clip.
func (m *Metrics) IncClipNotFound() {
	if m == nil {
		return
	}
	m.clipNotFound.Add(1)
}

// ClipNotFound reports the number of retrievals that found nothing.
func (m *Metrics) ClipNotFound() int64 {
	if m == nil {
		return 0
	}
	return m.clipNotFound.Load()
}

// AddRetentionRemoved counts files evicted by the retention sweep.
func (m *Metrics) AddRetentionRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retentionRemoved.Add(int64(n))
}

// RetentionRemoved reports the number of files evicted so far.
func (m *Metrics) RetentionRemoved() int64 {
	if m == nil {
		return 0
	}
	return m.retentionRemoved.Load()
}

func sortedKeys(in map[string]int64) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
