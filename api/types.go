// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

// ConnState enumerates the states of a connection's I/O state machine.
type ConnState int

const (
	// ConnAwaitingReadable: watching the socket for input; output is flushed on wake.
	ConnAwaitingReadable ConnState = iota
	// ConnAwaitingWritable: a partially written buffer is pending; input is not watched.
	ConnAwaitingWritable
	// ConnClosed is terminal.
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnAwaitingReadable:
		return "awaiting-readable"
	case ConnAwaitingWritable:
		return "awaiting-writable"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PoolStats reports how a buffer pool's slots are distributed across ownership lists.
type PoolStats struct {
	Size  int // total slots
	Free  int
	Ready int
	Busy  int
}
