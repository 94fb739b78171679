// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, logging setup, reload hooks and debug introspection for
// hioload-pipe.
//
// Provides concurrent-safe state handling primitives including:
//   - Named atomic counters (MetricsRegistry)
//   - zap logger construction with a runtime-adjustable level
//   - Reload hooks fired on operator request
//   - State export through registered debug probes
package control
