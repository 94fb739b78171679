// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Reload hooks fired when the operator asks for a configuration reload
// (SIGHUP in pipeserver). Hooks run synchronously, in registration order.

package control

import (
	"sync"

	"go.uber.org/multierr"
)

// Reloader dispatches reload requests to registered hooks.
type Reloader struct {
	mu    sync.Mutex
	hooks []func() error
}

// NewReloader creates an empty Reloader.
func NewReloader() *Reloader {
	return &Reloader{}
}

// RegisterReloadHook adds a new component reload listener.
func (r *Reloader) RegisterReloadHook(fn func() error) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Reload invokes every hook and returns their combined errors. A failing hook does
// not stop the ones after it.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	hooks := append([]func() error(nil), r.hooks...)
	r.mu.Unlock()

	var err error
	for _, fn := range hooks {
		err = multierr.Append(err, fn())
	}
	return err
}
