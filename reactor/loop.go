// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
//
// Single-threaded cooperative event loop. Run locks the calling goroutine to its OS
// thread, optionally pins that thread to a CPU, and alternates between waiting on
// the poller and running tasks submitted from other goroutines.

package reactor

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-pipe/affinity"
	"github.com/momentics/hioload-pipe/api"
)

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the loop's logger.
func WithLoopLogger(log *zap.Logger) LoopOption {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithCPU pins the loop's thread to cpu. Negative values leave it unpinned.
func WithCPU(cpu int) LoopOption {
	return func(l *Loop) { l.cpu = cpu }
}

// Loop owns a Poller and runs every callback registered on it. All descriptor
// state belonging to the loop must be mutated from callbacks or submitted tasks.
type Loop struct {
	name   string
	poller *Poller
	wake   *Signal
	log    *zap.Logger
	cpu    int

	mu     sync.Mutex
	tasks  *queue.Queue
	closed bool

	running  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
}

// NewLoop creates a loop named name. The loop does nothing until Run is called.
func NewLoop(name string, opts ...LoopOption) (*Loop, error) {
	l := &Loop{
		name:  name,
		log:   zap.NewNop(),
		cpu:   -1,
		tasks: queue.New(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(zap.String("loop", name))

	poller, err := NewPoller()
	if err != nil {
		return nil, fmt.Errorf("loop %s: %w", name, err)
	}
	l.poller = poller
	wake, err := newSignal(poller, l.runTasks)
	if err != nil {
		_ = poller.Close()
		return nil, fmt.Errorf("loop %s: %w", name, err)
	}
	if err := wake.Start(); err != nil {
		_ = wake.Close()
		_ = poller.Close()
		return nil, fmt.Errorf("loop %s: %w", name, err)
	}
	l.wake = wake
	return l, nil
}

// Name returns the loop's name.
func (l *Loop) Name() string { return l.name }

// Poller exposes the loop's poller for registering descriptors.
func (l *Loop) Poller() *Poller { return l.poller }

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run drives the loop until Stop is called or ctx is cancelled. Tasks still queued
// when the loop stops are run before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("loop %s: already running", l.name)
	}
	defer close(l.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if l.cpu >= 0 {
		if err := affinity.SetAffinity(l.cpu); err != nil {
			l.log.Warn("cpu pinning failed", zap.Int("cpu", l.cpu), zap.Error(err))
		}
	}

	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()

	l.log.Debug("loop started")
	var err error
	for !l.stopping.Load() {
		if _, err = l.poller.Poll(-1); err != nil {
			err = fmt.Errorf("loop %s: %w", l.name, err)
			l.log.Error("poll failed", zap.Error(err))
			break
		}
	}

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.runTasks()
	l.log.Debug("loop stopped")
	return err
}

// Stop asks the loop to return from Run. Safe from any goroutine.
func (l *Loop) Stop() {
	if l.stopping.CompareAndSwap(false, true) {
		_ = l.wake.Raise()
	}
}

// Submit queues fn to run on the loop's thread. After the loop has stopped it
// returns api.ErrLoopClosed and fn is never run.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return api.ErrLoopClosed
	}
	l.tasks.Add(fn)
	l.mu.Unlock()
	return l.wake.Raise()
}

// Pending reports the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks.Length()
}

// Close releases the loop's descriptors. Call after Run has returned, or instead of
// Run for a loop that never started.
func (l *Loop) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return multierr.Append(l.wake.Close(), l.poller.Close())
}

func (l *Loop) runTasks() {
	for {
		l.mu.Lock()
		if l.tasks.Length() == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.tasks.Remove().(func())
		l.mu.Unlock()
		fn()
	}
}
