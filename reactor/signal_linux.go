//go:build linux
// +build linux

// File: reactor/signal_linux.go
// Author: momentics <momentics@gmail.com>
//
// Coalescing cross-thread wakeup backed by eventfd(2). Raise may be called from any
// goroutine; the handler runs on the loop that owns the poller.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-pipe/api"
)

var one = func() []byte {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, 1)
	return b
}()

// Signal carries no payload. Any number of raises before the handler runs collapse
// into a single invocation. Stopping delivery keeps pending raises in the eventfd
// counter, so a later Start delivers them.
type Signal struct {
	fd      int
	poller  api.Reactor
	handler func()

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewSignal creates a stopped signal bound to loop. Call Start on the loop's thread
// (or before the loop runs) to begin delivery.
func NewSignal(loop *Loop, handler func()) (*Signal, error) {
	return newSignal(loop.poller, handler)
}

func newSignal(poller api.Reactor, handler func()) (*Signal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Signal{fd: fd, poller: poller, handler: handler}, nil
}

// Raise requests one handler invocation. Safe from any goroutine.
func (s *Signal) Raise() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return api.ErrSignalClosed
	}
	_, err := unix.Write(s.fd, one)
	// EAGAIN means the counter is saturated; a wakeup is already pending.
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("signal raise: %w", err)
	}
	return nil
}

// Start resumes delivery. Idempotent.
func (s *Signal) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrSignalClosed
	}
	if s.started {
		return nil
	}
	if err := s.poller.Register(s.fd, api.EventRead, s.onReadable); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop suspends delivery without losing raises. Idempotent.
func (s *Signal) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Active reports whether delivery is started.
func (s *Signal) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Close stops delivery, then releases the eventfd. Later raises return
// api.ErrSignalClosed.
func (s *Signal) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.stopLocked()
	s.closed = true
	if cerr := unix.Close(s.fd); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Signal) stopLocked() error {
	if !s.started || s.closed {
		return nil
	}
	s.started = false
	if err := s.poller.Unregister(s.fd); err != nil && !errors.Is(err, api.ErrPollerClosed) {
		return err
	}
	return nil
}

func (s *Signal) onReadable(api.IOEvents) {
	var buf [8]byte
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	_, err := unix.Read(s.fd, buf[:])
	s.mu.RUnlock()
	if err != nil {
		// EAGAIN: drained by an earlier wake in this batch.
		return
	}
	s.handler()
}
