// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server owns the listening socket and the two event loops: the I/O loop accepts
// connections and moves bytes between sockets and buffer pools, the processing
// loop transforms filled input buffers into output buffers.

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-pipe/api"
	"github.com/momentics/hioload-pipe/control"
	"github.com/momentics/hioload-pipe/internal/transport"
	"github.com/momentics/hioload-pipe/reactor"
	"github.com/momentics/hioload-pipe/transforms"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrServerClosed   = errors.New("server closed")
)

var _ api.GracefulShutdown = (*Server)(nil)

// Server is the pipeline facade.
type Server struct {
	cfg     *Config
	log     *zap.Logger
	tr      api.Transformer
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes

	ioLoop   *reactor.Loop
	procLoop *reactor.Loop
	ln       *transport.Listener

	// I/O loop only.
	acceptPaused bool
	acceptLog    rate.Sometimes

	mu    sync.Mutex
	conns map[string]*conn
	live  atomic.Int32

	started  atomic.Bool
	shutdown atomic.Bool
	done     chan struct{}
}

// New validates cfg, binds the listening socket and prepares both loops. Nothing
// is accepted until Run is called.
func New(cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	s := &Server{
		cfg:       &c,
		log:       zap.NewNop(),
		conns:     make(map[string]*conn),
		acceptLog: rate.Sometimes{First: 3, Interval: time.Second},
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if s.tr == nil {
		name := s.cfg.Transform
		if name == "" {
			name = transforms.Default
		}
		tr, err := transforms.ByName(name)
		if err != nil {
			return nil, err
		}
		s.tr = tr
	}
	if s.metrics == nil {
		s.metrics = control.NewMetricsRegistry()
	}
	if s.probes == nil {
		s.probes = control.NewDebugProbes()
	}

	var err error
	if s.ioLoop, err = reactor.NewLoop("io", reactor.WithLoopLogger(s.log), reactor.WithCPU(s.cfg.IOCPU)); err != nil {
		return nil, err
	}
	if s.procLoop, err = reactor.NewLoop("proc", reactor.WithLoopLogger(s.log), reactor.WithCPU(s.cfg.ProcCPU)); err != nil {
		_ = s.ioLoop.Close()
		return nil, err
	}
	if s.ln, err = transport.Listen(s.cfg.Host, s.cfg.Port, s.cfg.Backlog); err != nil {
		_ = multierr.Combine(s.ioLoop.Close(), s.procLoop.Close())
		return nil, err
	}
	if err = s.ioLoop.Poller().Register(s.ln.RawFD(), api.EventRead, s.onAcceptable); err != nil {
		_ = multierr.Combine(s.ln.Close(), s.ioLoop.Close(), s.procLoop.Close())
		return nil, fmt.Errorf("watch listener: %w", err)
	}

	s.probes.RegisterProbe("server.connections", func() any { return int(s.live.Load()) })
	s.probes.RegisterProbe("server.addr", func() any { return s.ln.Addr().String() })
	s.probes.RegisterProbe("server.metrics", func() any { return s.metrics.GetSnapshot() })
	for _, l := range []*reactor.Loop{s.ioLoop, s.procLoop} {
		s.probes.RegisterProbe("loop."+l.Name()+".pending", func() any { return l.Pending() })
	}
	control.RegisterPlatformProbes(s.probes)
	return s, nil
}

// Run drives both loops until ctx is cancelled, Shutdown is called, or a loop
// fails. Live connections are torn down before Run returns.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		if s.shutdown.Load() {
			return ErrServerClosed
		}
		return ErrAlreadyRunning
	}
	defer close(s.done)
	s.log.Info("listening", zap.String("addr", s.ln.Addr().String()),
		zap.Int("input_buffers", s.cfg.InputBuffers),
		zap.Int("output_buffers", s.cfg.OutputBuffers),
		zap.Int("buffer_size", s.cfg.BufferSize))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range []*reactor.Loop{s.ioLoop, s.procLoop} {
		l := l
		g.Go(func() error {
			defer cancel()
			return l.Run(gctx)
		})
	}
	err := g.Wait()
	return multierr.Append(err, s.release())
}

// Shutdown stops both loops; Run then tears down live connections and returns.
// Calling Shutdown on a server that never ran releases its resources directly.
func (s *Server) Shutdown() error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if s.started.CompareAndSwap(false, true) {
		return s.release()
	}
	s.ioLoop.Stop()
	s.procLoop.Stop()
	<-s.done
	return nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int { return s.ln.Port() }

// Addr returns the bound address in host:port form.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Connections reports the number of live connections.
func (s *Server) Connections() int { return int(s.live.Load()) }

// Stats returns connection count and counters.
func (s *Server) Stats() Stats {
	return Stats{Connections: s.Connections(), Counters: s.metrics.GetSnapshot()}
}

// DebugState returns the output of every registered debug probe.
func (s *Server) DebugState() map[string]any { return s.probes.DumpState() }

// ConnectionState returns pool occupancy per live connection, keyed "conn.<id>".
func (s *Server) ConnectionState() map[string]any { return s.probes.Dump("conn.") }

// Metrics exposes the server's counter registry.
func (s *Server) Metrics() *control.MetricsRegistry { return s.metrics }

// release runs after both loops have stopped (or never started).
func (s *Server) release() error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.teardown(ErrServerClosed)
	}
	err := multierr.Combine(
		s.ln.Close(),
		s.ioLoop.Close(),
		s.procLoop.Close(),
	)
	s.log.Info("server stopped", zap.Error(err))
	return err
}

// onAcceptable runs on the I/O loop whenever the listener is readable.
func (s *Server) onAcceptable(api.IOEvents) {
	for !s.atCapacity() {
		nc, err := s.ln.Accept()
		if errors.Is(err, api.ErrWouldBlock) {
			return
		}
		if err != nil {
			s.acceptLog.Do(func() { s.log.Warn("accept failed", zap.Error(err)) })
			return
		}
		if _, err := newConn(s, nc); err != nil {
			s.log.Warn("connection setup failed", zap.String("remote", nc.RemoteAddr()), zap.Error(err))
			_ = nc.Close()
		}
	}
	s.pauseAccept()
}

func (s *Server) atCapacity() bool {
	return s.cfg.MaxConnections > 0 && int(s.live.Load()) >= s.cfg.MaxConnections
}

// pauseAccept leaves further peers in the kernel backlog. I/O loop only.
func (s *Server) pauseAccept() {
	if s.acceptPaused {
		return
	}
	if err := s.ioLoop.Poller().Modify(s.ln.RawFD(), 0); err != nil {
		s.log.Warn("pause accept", zap.Error(err))
		return
	}
	s.acceptPaused = true
	s.log.Debug("connection limit reached, accept paused", zap.Int("max_connections", s.cfg.MaxConnections))
}

// resumeAccept runs on the I/O loop once a connection slot frees up.
func (s *Server) resumeAccept() {
	if !s.acceptPaused || s.atCapacity() {
		return
	}
	if err := s.ioLoop.Poller().Modify(s.ln.RawFD(), api.EventRead); err != nil {
		s.log.Warn("resume accept", zap.Error(err))
		return
	}
	s.acceptPaused = false
}

func (s *Server) track(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.live.Inc()
	s.metrics.Counter(control.MetricConnectionsAccepted).Inc()
}

// forget is called once per connection by whichever loop finishes its teardown last.
func (s *Server) forget(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.metrics.Counter(control.MetricConnectionsClosed).Inc()
	s.live.Dec()
	if s.shutdown.Load() {
		return
	}
	// ErrLoopClosed during shutdown is fine: nothing needs to accept any more.
	_ = s.ioLoop.Submit(s.resumeAccept)
}
