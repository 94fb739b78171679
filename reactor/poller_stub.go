//go:build !linux
// +build !linux

// File: reactor/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub for platforms without epoll/eventfd. Constructors report api.ErrNotSupported.

package reactor

import "github.com/momentics/hioload-pipe/api"

// Poller is unavailable on this platform.
type Poller struct{}

// NewPoller reports api.ErrNotSupported.
func NewPoller() (*Poller, error) { return nil, api.ErrNotSupported }

func (*Poller) Register(int, api.IOEvents, api.IOCallback) error { return api.ErrNotSupported }
func (*Poller) Modify(int, api.IOEvents) error { return api.ErrNotSupported }
func (*Poller) Unregister(int) error { return api.ErrNotSupported }
func (*Poller) Interest(int) (api.IOEvents, bool) { return 0, false }
func (*Poller) Len() int { return 0 }
func (*Poller) Poll(int) (int, error) { return 0, api.ErrNotSupported }
func (*Poller) Close() error { return nil }

// Signal is unavailable on this platform.
type Signal struct{}

// NewSignal reports api.ErrNotSupported.
func NewSignal(*Loop, func()) (*Signal, error) { return nil, api.ErrNotSupported }

func newSignal(api.Reactor, func()) (*Signal, error) { return nil, api.ErrNotSupported }

func (*Signal) Raise() error { return api.ErrNotSupported }
func (*Signal) Start() error { return api.ErrNotSupported }
func (*Signal) Stop() error { return nil }
func (*Signal) Active() bool { return false }
func (*Signal) Close() error { return nil }
