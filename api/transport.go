// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the non-blocking byte source/sink contract the pipeline is built on,
// and the socket abstraction (NetConn) that satisfies it.

package api

// ByteSource is a non-blocking reader. Read must return promptly: ErrWouldBlock when
// no data is available, (0, nil) or io.EOF once the peer has finished sending.
type ByteSource interface {
	Read(p []byte) (n int, err error)
}

// ByteSink is a non-blocking writer. Write may accept fewer bytes than offered and
// returns ErrWouldBlock when nothing can be accepted right now.
type ByteSink interface {
	Write(p []byte) (n int, err error)
}

// NetConn abstracts a full-duplex, non-blocking network connection backed by an
// OS-level descriptor that can be watched by a Reactor.
type NetConn interface {
	ByteSource
	ByteSink

	// Close shuts down the connection; idempotent.
	Close() error

	// RawFD returns the underlying OS-level file descriptor.
	RawFD() int

	// RemoteAddr returns the peer address in host:port form.
	RemoteAddr() string
}
