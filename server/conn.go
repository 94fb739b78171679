// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection pipeline. The socket side runs on the I/O loop as a two-state
// machine (awaiting readable / awaiting writable); the processing side runs on the
// processing loop. The sides share only the two pools, three signals and the
// throttle flags.

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-pipe/api"
	"github.com/momentics/hioload-pipe/control"
	"github.com/momentics/hioload-pipe/pool"
	"github.com/momentics/hioload-pipe/reactor"
)

type conn struct {
	id  string
	srv *Server
	nc  api.NetConn
	fd  int
	log *zap.Logger

	in  *pool.Pool // filled by the I/O side, drained by the processing side
	out *pool.Pool // filled by the processing side, drained by the I/O side

	// I/O loop only.
	state       api.ConnState
	interest    api.IOEvents
	readPaused  bool
	draining    *pool.Buffer
	outputReady *reactor.Signal

	// Processing loop only.
	procPaused  bool
	inputReady  *reactor.Signal
	outputFreed *reactor.Signal

	// Set by a side that found its pool empty; the other side raises a signal when
	// it frees a buffer while the flag is up.
	readThrottled atomic.Bool
	procThrottled atomic.Bool

	closing   atomic.Bool
	sidesLeft atomic.Int32
	sampled   rate.Sometimes

	bytesRead, bytesWritten, transformed *atomic.Int64
	readBackpressure, procBackpressure   *atomic.Int64
}

// newConn wires an accepted socket into both loops. Runs on the I/O loop.
func newConn(s *Server, nc api.NetConn) (c *conn, err error) {
	c = &conn{
		id:       uuid.NewString(),
		srv:      s,
		nc:       nc,
		fd:       nc.RawFD(),
		state:    api.ConnAwaitingReadable,
		interest: api.EventRead,
		sampled:  rate.Sometimes{First: 1, Interval: time.Second},

		bytesRead:        s.metrics.Counter(control.MetricBytesRead),
		bytesWritten:     s.metrics.Counter(control.MetricBytesWritten),
		transformed:      s.metrics.Counter(control.MetricBuffersTransformed),
		readBackpressure: s.metrics.Counter(control.MetricReadBackpressure),
		procBackpressure: s.metrics.Counter(control.MetricProcessBackpressure),
	}
	c.log = s.log.With(zap.String("conn", c.id), zap.String("remote", nc.RemoteAddr()))
	c.sidesLeft.Store(2)

	var cleanup []func() error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				_ = cleanup[i]()
			}
		}
	}()

	if c.in, err = pool.New(s.cfg.InputBuffers, s.cfg.BufferSize); err != nil {
		return nil, fmt.Errorf("input pool: %w", err)
	}
	cleanup = append(cleanup, func() error { c.in.Destroy(); return nil })
	if c.out, err = pool.New(s.cfg.OutputBuffers, s.cfg.BufferSize); err != nil {
		return nil, fmt.Errorf("output pool: %w", err)
	}
	cleanup = append(cleanup, func() error { c.out.Destroy(); return nil })

	if c.outputReady, err = reactor.NewSignal(s.ioLoop, c.onOutputReady); err != nil {
		return nil, err
	}
	cleanup = append(cleanup, c.outputReady.Close)
	if c.inputReady, err = reactor.NewSignal(s.procLoop, c.onInputReady); err != nil {
		return nil, err
	}
	cleanup = append(cleanup, c.inputReady.Close)
	if c.outputFreed, err = reactor.NewSignal(s.procLoop, c.onOutputFreed); err != nil {
		return nil, err
	}
	cleanup = append(cleanup, c.outputFreed.Close)

	if err = c.outputReady.Start(); err != nil {
		return nil, err
	}
	if err = s.ioLoop.Poller().Register(c.fd, c.interest, c.onSocket); err != nil {
		return nil, fmt.Errorf("watch socket: %w", err)
	}
	cleanup = append(cleanup, func() error { return s.ioLoop.Poller().Unregister(c.fd) })
	// Processing-side signals are started on their own loop; raises before that
	// stay pending in the eventfd counters.
	if err = s.procLoop.Submit(c.startProcessing); err != nil {
		return nil, err
	}

	s.track(c)
	s.probes.RegisterProbe("conn."+c.id, c.probe)
	c.log.Info("connection accepted")
	return c, nil
}

// onSocket handles readiness of the socket. I/O loop.
func (c *conn) onSocket(ev api.IOEvents) {
	if c.closing.Load() {
		return
	}
	if ev&(api.EventError|api.EventHangup) != 0 {
		c.teardown(fmt.Errorf("socket %s", ev))
		return
	}
	switch c.state {
	case api.ConnAwaitingReadable:
		if ev&api.EventRead != 0 {
			c.readInput()
		}
	case api.ConnAwaitingWritable:
		if ev&api.EventWrite != 0 {
			c.continueWrite()
		}
	}
}

// readInput fills one free input buffer from the socket and hands it over.
func (c *conn) readInput() {
	buf := c.in.AcquireFree()
	if buf == nil {
		c.pauseRead()
		return
	}
	if err := buf.EnsureCapacity(c.srv.cfg.BufferSize); err != nil {
		c.in.Release(buf)
		c.teardown(err)
		return
	}
	n, err := buf.AppendFrom(c.nc)
	c.bytesRead.Add(int64(n))
	if err != nil {
		// A unit cut short by end-of-stream is dropped, never transformed.
		c.in.Release(buf)
		c.teardown(err)
		return
	}
	if buf.Len() == 0 {
		c.in.Release(buf)
		return
	}
	c.in.PublishReady(buf)
	c.raise(c.inputReady)
}

// pauseRead drops read interest until the processing side frees an input buffer.
func (c *conn) pauseRead() {
	c.readThrottled.Store(true)
	if c.in.FreeLen() > 0 {
		// Freed between the failed acquire and the flag; level-triggered
		// readiness brings us straight back.
		c.readThrottled.Store(false)
		return
	}
	c.readPaused = true
	c.readBackpressure.Inc()
	c.sampled.Do(func() { c.log.Debug("input pool exhausted, pausing reads") })
	c.updateInterest()
}

// onOutputReady runs on the I/O loop when the processing side published output
// or released an input buffer the reader was waiting for.
func (c *conn) onOutputReady() {
	if c.closing.Load() {
		return
	}
	if c.readPaused && c.in.FreeLen() > 0 {
		c.readPaused = false
		c.readThrottled.Store(false)
	}
	if c.state == api.ConnAwaitingReadable {
		c.flushOutput()
	}
	c.updateInterest()
}

// flushOutput writes ready output buffers in order until the queue is empty or
// the socket stops accepting bytes. Awaiting-readable state only.
func (c *conn) flushOutput() {
	for !c.closing.Load() {
		buf := c.out.AcquireReady()
		if buf == nil {
			return
		}
		n, err := buf.DrainTo(c.nc)
		c.bytesWritten.Add(int64(n))
		if err != nil {
			c.releaseOutput(buf)
			c.teardown(err)
			return
		}
		if buf.Len() > 0 {
			c.draining = buf
			c.state = api.ConnAwaitingWritable
			c.updateInterest()
			return
		}
		c.releaseOutput(buf)
	}
}

// continueWrite resumes a partial write. Awaiting-writable state only.
func (c *conn) continueWrite() {
	buf := c.draining
	n, err := buf.DrainTo(c.nc)
	c.bytesWritten.Add(int64(n))
	if err != nil {
		c.draining = nil
		c.releaseOutput(buf)
		c.teardown(err)
		return
	}
	if buf.Len() > 0 {
		return
	}
	c.draining = nil
	c.releaseOutput(buf)
	c.state = api.ConnAwaitingReadable
	if c.readPaused && c.in.FreeLen() > 0 {
		c.readPaused = false
		c.readThrottled.Store(false)
	}
	c.flushOutput()
	c.updateInterest()
}

func (c *conn) releaseOutput(buf *pool.Buffer) {
	c.out.Release(buf)
	if c.procThrottled.Load() {
		c.raise(c.outputFreed)
	}
}

// updateInterest syncs the socket's epoll interest with the state machine.
func (c *conn) updateInterest() {
	if c.closing.Load() {
		return
	}
	want := api.EventRead
	switch {
	case c.state == api.ConnAwaitingWritable:
		want = api.EventWrite
	case c.readPaused:
		want = 0
	}
	if want == c.interest {
		return
	}
	if err := c.srv.ioLoop.Poller().Modify(c.fd, want); err != nil {
		c.teardown(err)
		return
	}
	c.interest = want
}

func (c *conn) raise(sig *reactor.Signal) {
	if err := sig.Raise(); err != nil && !errors.Is(err, api.ErrSignalClosed) {
		c.teardown(err)
	}
}

// teardown closes the connection from either loop. The first call wins; each loop
// then closes its own side, and the last one out frees the pools.
func (c *conn) teardown(cause error) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	if errors.Is(cause, api.ErrPeerClosed) {
		c.log.Info("connection closed", zap.String("cause", "peer closed"))
	} else {
		c.log.Warn("connection closed", zap.Error(cause))
	}
	// A stopped loop runs nothing, so its side is closed inline.
	if err := c.srv.ioLoop.Submit(c.closeIO); err != nil {
		c.closeIO()
	}
	if err := c.srv.procLoop.Submit(c.closeProc); err != nil {
		c.closeProc()
	}
}

func (c *conn) closeIO() {
	c.state = api.ConnClosed
	c.draining = nil
	err := c.srv.ioLoop.Poller().Unregister(c.fd)
	if errors.Is(err, api.ErrPollerClosed) {
		err = nil
	}
	err = multierr.Combine(err, c.outputReady.Close(), c.nc.Close())
	if err != nil {
		c.log.Debug("socket side close", zap.Error(err))
	}
	c.sideDone()
}

func (c *conn) closeProc() {
	if err := multierr.Combine(c.inputReady.Close(), c.outputFreed.Close()); err != nil {
		c.log.Debug("processing side close", zap.Error(err))
	}
	c.sideDone()
}

func (c *conn) sideDone() {
	if c.sidesLeft.Dec() != 0 {
		return
	}
	c.in.Destroy()
	c.out.Destroy()
	c.srv.probes.UnregisterProbe("conn." + c.id)
	c.srv.forget(c)
}

// probe reports pool occupancy for DebugState.
func (c *conn) probe() any {
	return map[string]any{
		"remote": c.nc.RemoteAddr(),
		"input":  c.in.Stats(),
		"output": c.out.Stats(),
	}
}
