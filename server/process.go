// File: server/process.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Processing side of a connection. Runs on the processing loop: takes ready input
// buffers in order, transforms each into a free output buffer and hands the result
// to the I/O loop.

package server

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/transform"

	"github.com/momentics/hioload-pipe/api"
	"github.com/momentics/hioload-pipe/pool"
	"github.com/momentics/hioload-pipe/transforms"
)

func (c *conn) startProcessing() {
	if c.closing.Load() {
		return
	}
	if err := c.inputReady.Start(); err != nil {
		c.teardown(err)
		return
	}
	if err := c.outputFreed.Start(); err != nil {
		c.teardown(err)
	}
}

func (c *conn) onInputReady() {
	if c.closing.Load() {
		return
	}
	c.process()
}

// onOutputFreed lifts the processing side's self-throttle.
func (c *conn) onOutputFreed() {
	if c.closing.Load() {
		return
	}
	c.procThrottled.Store(false)
	if c.procPaused {
		c.procPaused = false
		if err := c.inputReady.Start(); err != nil {
			c.teardown(err)
			return
		}
	}
	c.process()
}

// process runs until there is no more input or no free output buffer.
func (c *conn) process() {
	for !c.closing.Load() {
		out := c.out.AcquireFree()
		if out == nil {
			if c.throttleProcessing() {
				return
			}
			continue
		}
		in := c.in.AcquireReady()
		if in == nil {
			c.out.Release(out)
			return
		}
		if err := c.transformInto(out, in); err != nil {
			c.out.Release(out)
			c.in.Release(in)
			c.teardown(err)
			return
		}
		c.transformed.Inc()
		if out.Len() > 0 {
			c.out.PublishReady(out)
			c.raise(c.outputReady)
		} else {
			c.out.Release(out)
		}

		consumed := in.Len() == 0
		c.in.RequeueFront(in)
		if consumed && c.readThrottled.Load() {
			c.raise(c.outputReady)
		}
	}
}

// throttleProcessing stops input wakeups until an output buffer is released. It
// returns false when a buffer turned up in the meantime.
func (c *conn) throttleProcessing() bool {
	c.procThrottled.Store(true)
	if c.out.FreeLen() > 0 {
		c.procThrottled.Store(false)
		return false
	}
	if !c.procPaused {
		c.procPaused = true
		c.procBackpressure.Inc()
		c.sampled.Do(func() { c.log.Debug("output pool exhausted, pausing processing") })
		if err := c.inputReady.Stop(); err != nil {
			c.teardown(err)
		}
	}
	return true
}

// transformInto applies the transform to the unconsumed bytes of in, writing into
// out. When the output does not fit, out is doubled and the unit transformed again
// from the start; only at MaxBufferSize is the unit split, with the rest of in left
// pending.
func (c *conn) transformInto(out, in *pool.Buffer) error {
	src := in.Bytes()
	limit := c.srv.cfg.MaxBufferSize
	need := max(transforms.OutputSize(c.srv.tr, len(src)), c.srv.cfg.BufferSize)
	if need > limit {
		return fmt.Errorf("output of %d bytes exceeds %d: %w", need, limit, api.ErrOutOfMemory)
	}
	for {
		if err := out.EnsureCapacity(need); err != nil {
			return err
		}
		c.srv.tr.Reset()
		nDst, nSrc, err := c.srv.tr.Transform(out.Tail(), src, true)
		short := errors.Is(err, transform.ErrShortDst)
		if err != nil && !short {
			return fmt.Errorf("transform: %w", err)
		}
		if short && need < limit {
			need = min(2*need, limit)
			continue
		}
		if nDst == 0 && nSrc == 0 && len(src) > 0 {
			return api.ErrTransformStalled
		}
		out.Commit(nDst)
		in.Consume(nSrc)
		if short {
			c.log.Debug("transform output split", zap.Int("consumed", nSrc), zap.Int("pending", in.Len()))
		}
		return nil
	}
}
