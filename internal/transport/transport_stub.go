// internal/transport/transport_stub.go
//go:build !linux
// +build !linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net/netip"

	"github.com/momentics/hioload-pipe/api"
)

// Listener is unavailable on this platform.
type Listener struct{}

// Listen reports api.ErrNotSupported.
func Listen(string, int, int) (*Listener, error) { return nil, api.ErrNotSupported }

func (*Listener) Accept() (*Conn, error) { return nil, api.ErrNotSupported }
func (*Listener) RawFD() int { return -1 }
func (*Listener) Addr() netip.AddrPort { return netip.AddrPort{} }
func (*Listener) Port() int { return 0 }
func (*Listener) Close() error { return nil }

// Conn is unavailable on this platform.
type Conn struct{}

func (*Conn) Read([]byte) (int, error) { return 0, api.ErrNotSupported }
func (*Conn) Write([]byte) (int, error) { return 0, api.ErrNotSupported }
func (*Conn) Close() error { return nil }
func (*Conn) RawFD() int { return -1 }
func (*Conn) RemoteAddr() string { return "" }
