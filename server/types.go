// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server configuration, defaults and validation.

package server

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/momentics/hioload-pipe/api"
	"github.com/momentics/hioload-pipe/internal/transport"
	"github.com/momentics/hioload-pipe/pool"
	"github.com/momentics/hioload-pipe/transforms"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Host           string // bind address; empty binds all IPv4 interfaces
	Port           int    // TCP port; 0 picks an ephemeral port
	Backlog        int    // listen(2) backlog
	MaxConnections int    // live connections before accepting pauses; 0 = unlimited
	InputBuffers   int    // slots in each connection's input pool
	OutputBuffers  int    // slots in each connection's output pool
	BufferSize     int    // initial capacity of every pool slot, bytes
	MaxBufferSize  int    // largest single buffer a transform may request, bytes
	IOCPU          int    // CPU for the I/O loop thread (-1 = unpinned)
	ProcCPU        int    // CPU for the processing loop thread (-1 = unpinned)
	LogLevel       string // used by the example binaries when building the logger
	Transform      string // registered transform name, see transforms.Names
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "",
		Port:           1032,
		Backlog:        1,
		MaxConnections: 1,
		InputBuffers:   10,
		OutputBuffers:  20,
		BufferSize:     1024,
		MaxBufferSize:  64 << 20,
		IOCPU:          -1,
		ProcCPU:        -1,
		LogLevel:       "info",
		Transform:      transforms.Default,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf(format+": %w", append(args, api.ErrInvalidArgument)...))
		}
	}
	check(c.Port >= 0 && c.Port <= transport.MaxPort, "port %d out of range", c.Port)
	check(c.Backlog > 0, "backlog must be positive, got %d", c.Backlog)
	check(c.MaxConnections >= 0, "max connections must not be negative, got %d", c.MaxConnections)
	check(c.InputBuffers > 0, "input buffers must be positive, got %d", c.InputBuffers)
	check(c.OutputBuffers > 0, "output buffers must be positive, got %d", c.OutputBuffers)
	check(c.BufferSize > 0, "buffer size must be positive, got %d", c.BufferSize)
	check(c.MaxBufferSize >= c.BufferSize && c.MaxBufferSize <= pool.MaxCapacity,
		"max buffer size %d must be between buffer size %d and %d", c.MaxBufferSize, c.BufferSize, pool.MaxCapacity)
	check(c.IOCPU >= -1 && c.ProcCPU >= -1, "cpu must be -1 or a cpu index")
	if c.Transform != "" {
		if _, terr := transforms.ByName(c.Transform); terr != nil {
			err = multierr.Append(err, terr)
		}
	}
	return err
}

// Stats is a point-in-time view of the server.
type Stats struct {
	Connections int
	Counters    map[string]int64
}
