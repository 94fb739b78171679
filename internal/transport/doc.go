// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking TCP sockets for hioload-pipe. Listener and Conn wrap file
// descriptors directly so the reactor can watch them with epoll; EAGAIN surfaces
// as api.ErrWouldBlock and a zero-byte read as io.EOF. Linux only; other platforms
// get a stub returning api.ErrNotSupported.

package transport
