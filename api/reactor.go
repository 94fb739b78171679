// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for level-triggered readiness multiplexers
// (epoll on Linux) that drive the single-threaded I/O and processing loops.

package api

import "strings"

// IOEvents is a bitmask of readiness conditions.
type IOEvents uint32

const (
	// EventRead: the descriptor is readable (or the peer closed its side).
	EventRead IOEvents = 1 << iota
	// EventWrite: the descriptor is writable.
	EventWrite
	// EventError: an error condition is pending on the descriptor.
	EventError
	// EventHangup: the connection was hung up in both directions.
	EventHangup
)

// String renders the mask as "read|write|...", or "none".
func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "read")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if e&EventError != 0 {
		parts = append(parts, "error")
	}
	if e&EventHangup != 0 {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}

// IOCallback receives the readiness conditions observed for a descriptor.
type IOCallback func(events IOEvents)

// Reactor defines the common interface for a readiness multiplexer. All methods except
// Close are meant to be called from the loop that owns the reactor.
type Reactor interface {
	// Register starts watching fd for the given interest set.
	Register(fd int, events IOEvents, cb IOCallback) error

	// Modify replaces the interest set of a registered fd. An empty set keeps the
	// registration but suppresses read/write notifications.
	Modify(fd int, events IOEvents) error

	// Unregister stops watching fd.
	Unregister(fd int) error

	// Poll waits up to timeoutMs (-1 blocks) and dispatches callbacks inline.
	Poll(timeoutMs int) (int, error)

	// Close releases the backend.
	Close() error
}
