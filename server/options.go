// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-pipe/api"
	"github.com/momentics/hioload-pipe/control"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the logger; the default discards everything.
func WithLogger(log *zap.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTransformer overrides the transform named in Config.
func WithTransformer(t api.Transformer) ServerOption {
	return func(s *Server) {
		if t != nil {
			s.tr = t
		}
	}
}

// WithMetrics records counters into an existing registry.
func WithMetrics(mr *control.MetricsRegistry) ServerOption {
	return func(s *Server) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithDebugProbes registers server probes into an existing registry.
func WithDebugProbes(dp *control.DebugProbes) ServerOption {
	return func(s *Server) {
		if dp != nil {
			s.probes = dp
		}
	}
}

// WithLoopCPUs pins the I/O and processing loop threads, overriding Config.
func WithLoopCPUs(ioCPU, procCPU int) ServerOption {
	return func(s *Server) {
		s.cfg.IOCPU = ioCPU
		s.cfg.ProcCPU = procCPU
	}
}
