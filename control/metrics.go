// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Exposes named counters with dynamic registration; increments are lock-free.

package control

import (
	"sort"
	"sync"

	"go.uber.org/atomic"
)

// Counter names recorded by the server.
const (
	MetricConnectionsAccepted = "connections.accepted"
	MetricConnectionsClosed   = "connections.closed"
	MetricBytesRead           = "bytes.read"
	MetricBytesWritten        = "bytes.written"
	MetricBuffersTransformed  = "buffers.transformed"
	MetricReadBackpressure    = "backpressure.read"
	MetricProcessBackpressure = "backpressure.process"
)

// MetricsRegistry holds named counters. The map is only locked when a counter is
// first created; callers on hot paths keep the returned *atomic.Int64.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{counters: make(map[string]*atomic.Int64)}
}

// Counter returns the counter for key, creating it at zero.
func (mr *MetricsRegistry) Counter(key string) *atomic.Int64 {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[key]; !ok {
		c = atomic.NewInt64(0)
		mr.counters[key] = c
	}
	return c
}

// Add adds delta to the counter for key.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	mr.Counter(key).Add(delta)
}

// Get returns the current value for key; unknown keys read as zero.
func (mr *MetricsRegistry) Get(key string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[key]; ok {
		return c.Load()
	}
	return 0
}

// Keys returns the registered counter names in sorted order.
func (mr *MetricsRegistry) Keys() []string {
	mr.mu.RLock()
	keys := make([]string, 0, len(mr.counters))
	for k := range mr.counters {
		keys = append(keys, k)
	}
	mr.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// GetSnapshot returns the latest counter values.
func (mr *MetricsRegistry) GetSnapshot() map[string]int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.counters))
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}
