// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named state probes. The server registers one per live connection (pool
// occupancy) plus loop queue depth and platform facts; dumps are taken on demand.

package control

import (
	"sort"
	"strings"
	"sync"
)

// Probe reports a snapshot of some live state. It must be safe to call from any
// goroutine.
type Probe func() any

// DebugProbes is a registry of probes keyed by dotted name ("conn.<id>",
// "loop.io.pending").
type DebugProbes struct {
	mu     sync.Mutex
	probes map[string]Probe
}

// NewDebugProbes creates an empty registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{probes: make(map[string]Probe)}
}

// RegisterProbe adds fn under name, replacing any previous probe of that name.
func (dp *DebugProbes) RegisterProbe(name string, fn Probe) {
	dp.mu.Lock()
	dp.probes[name] = fn
	dp.mu.Unlock()
}

// UnregisterProbe removes name. Unknown names are ignored.
func (dp *DebugProbes) UnregisterProbe(name string) {
	dp.mu.Lock()
	delete(dp.probes, name)
	dp.mu.Unlock()
}

// Names lists the registered probe names in order.
func (dp *DebugProbes) Names() []string {
	dp.mu.Lock()
	names := make([]string, 0, len(dp.probes))
	for name := range dp.probes {
		names = append(names, name)
	}
	dp.mu.Unlock()
	sort.Strings(names)
	return names
}

// Dump runs every probe whose name starts with prefix; "" selects all of them.
// Probes run outside the registry lock, so a probe may register or remove probes.
func (dp *DebugProbes) Dump(prefix string) map[string]any {
	dp.mu.Lock()
	selected := make(map[string]Probe)
	for name, fn := range dp.probes {
		if strings.HasPrefix(name, prefix) {
			selected[name] = fn
		}
	}
	dp.mu.Unlock()

	out := make(map[string]any, len(selected))
	for name, fn := range selected {
		out[name] = fn()
	}
	return out
}

// DumpState runs all probes.
func (dp *DebugProbes) DumpState() map[string]any { return dp.Dump("") }
