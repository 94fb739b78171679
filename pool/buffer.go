// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Growable byte region with independent write and drain cursors. A Buffer is the
// unit moved between the I/O loop and the processing loop.

package pool

import (
	"errors"
	"io"

	"github.com/momentics/hioload-pipe/api"
)

// MaxCapacity caps a single buffer allocation. Requests above it fail with
// api.ErrOutOfMemory instead of letting the runtime abort the process.
var MaxCapacity = 64 << 20

// Buffer keeps 0 <= size <= offset <= len(data). The unconsumed region is
// data[offset-size : offset].
type Buffer struct {
	data   []byte
	offset int // one past the last byte written since the last full drain
	size   int // bytes written but not yet consumed

	slot int // index in the owning pool, -1 when standalone
}

// NewBuffer returns a standalone buffer with the given initial capacity.
func NewBuffer(capacity int) (*Buffer, error) {
	b := &Buffer{slot: -1}
	if err := b.Init(capacity); err != nil {
		return nil, err
	}
	return b, nil
}

// Init allocates storage and zeroes the cursors. Capacity 0 yields no storage.
func (b *Buffer) Init(capacity int) error {
	b.data = nil
	return b.EnsureCapacity(capacity)
}

// Destroy releases storage. Safe to call more than once.
func (b *Buffer) Destroy() {
	b.data = nil
	b.offset, b.size = 0, 0
}

// EnsureCapacity grows the buffer to at least n bytes. n == 0 releases storage.
// Cursors are always reset; callers only resize a logically empty buffer.
func (b *Buffer) EnsureCapacity(n int) error {
	b.offset, b.size = 0, 0
	switch {
	case n < 0 || n > MaxCapacity:
		return api.ErrOutOfMemory
	case n == 0:
		b.data = nil
	case n > len(b.data):
		grown := make([]byte, n)
		copy(grown, b.data)
		b.data = grown
	}
	return nil
}

// AppendFrom reads from src into the unwritten tail until the buffer is full, src
// would block, src reports end-of-stream, or src fails. It returns the bytes read
// in this call. End-of-stream (io.EOF or a zero-byte read) yields api.ErrPeerClosed.
func (b *Buffer) AppendFrom(src api.ByteSource) (int, error) {
	total := 0
	for b.offset < len(b.data) {
		n, err := src.Read(b.data[b.offset:])
		if n > 0 {
			b.offset += n
			b.size += n
			total += n
		}
		switch {
		case errors.Is(err, api.ErrWouldBlock):
			return total, nil
		case errors.Is(err, io.EOF):
			return total, api.ErrPeerClosed
		case err != nil:
			return total, err
		case n == 0:
			return total, api.ErrPeerClosed
		}
	}
	return total, nil
}

// DrainTo writes the unconsumed region to dst until it is empty, dst would block, or
// dst fails. A sink that accepts nothing without an error counts as would-block.
// On full drain both cursors reset to 0.
func (b *Buffer) DrainTo(dst api.ByteSink) (int, error) {
	total := 0
	for b.size > 0 {
		n, err := dst.Write(b.data[b.offset-b.size : b.offset])
		if n > 0 {
			total += n
			b.Consume(n)
		}
		if errors.Is(err, api.ErrWouldBlock) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

// Bytes returns the unconsumed region. The slice aliases the buffer's storage.
func (b *Buffer) Bytes() []byte { return b.data[b.offset-b.size : b.offset] }

// Tail returns the unwritten region for callers that fill the buffer directly.
func (b *Buffer) Tail() []byte { return b.data[b.offset:] }

// Commit marks n bytes of Tail as written.
func (b *Buffer) Commit(n int) {
	if n < 0 || b.offset+n > len(b.data) {
		panic(api.ContractViolation("commit beyond buffer capacity").
			WithContext("n", n).WithContext("free", len(b.data)-b.offset))
	}
	b.offset += n
	b.size += n
}

// Consume drops n bytes from the front of the unconsumed region. Draining the last
// byte resets both cursors in the same step.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.size {
		panic(api.ContractViolation("consume beyond pending bytes").
			WithContext("n", n).WithContext("pending", b.size))
	}
	b.size -= n
	if b.size == 0 {
		b.offset = 0
	}
}

// Reset discards pending bytes and rewinds the write cursor.
func (b *Buffer) Reset() { b.offset, b.size = 0, 0 }

// Len reports the number of unconsumed bytes.
func (b *Buffer) Len() int { return b.size }

// Cap reports the allocated capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Offset reports the write cursor.
func (b *Buffer) Offset() int { return b.offset }
