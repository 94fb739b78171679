// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the non-blocking transport contract.

package fake

import (
	"io"
	"sync"

	"github.com/momentics/hioload-pipe/api"
)

// step is one scripted outcome of a Read call.
type step struct {
	data []byte
	err  error
}

// Transport is a scripted, non-blocking api.NetConn. Reads replay queued steps;
// an empty script reports api.ErrWouldBlock. Writes are accepted up to the current
// write budget and then report api.ErrWouldBlock.
type Transport struct {
	mu sync.Mutex

	script   []step
	maxRead  int
	written  []byte
	budget   int // remaining bytes Write accepts; negative means unlimited
	maxWrite int // per-call cap, 0 means none
	writeErr error
	closed   bool

	reads, writes int
}

// NewTransport creates a transport with an empty read script and an unlimited sink.
func NewTransport() *Transport {
	return &Transport{budget: -1}
}

// QueueRead appends a chunk of data to the read script.
func (t *Transport) QueueRead(data []byte) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, step{data: append([]byte(nil), data...)})
	return t
}

// QueueWouldBlock makes the next unread step report api.ErrWouldBlock once.
func (t *Transport) QueueWouldBlock() *Transport {
	return t.queueErr(api.ErrWouldBlock)
}

// QueueEOF makes the source report end-of-stream.
func (t *Transport) QueueEOF() *Transport {
	return t.queueErr(io.EOF)
}

// QueueError injects a read failure.
func (t *Transport) QueueError(err error) *Transport {
	return t.queueErr(err)
}

func (t *Transport) queueErr(err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, step{err: err})
	return t
}

// SetMaxRead caps the bytes returned by a single Read call (0 means no cap).
func (t *Transport) SetMaxRead(n int) {
	t.mu.Lock()
	t.maxRead = n
	t.mu.Unlock()
}

// SetWriteBudget limits how many more bytes Write accepts before blocking.
// A negative budget is unlimited.
func (t *Transport) SetWriteBudget(n int) {
	t.mu.Lock()
	t.budget = n
	t.mu.Unlock()
}

// SetMaxWrite caps the bytes accepted by a single Write call (0 means no cap).
func (t *Transport) SetMaxWrite(n int) {
	t.mu.Lock()
	t.maxWrite = n
	t.mu.Unlock()
}

// SetWriteError makes every subsequent Write fail with err.
func (t *Transport) SetWriteError(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}

// Read implements api.ByteSource.
func (t *Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads++
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if len(t.script) == 0 {
		return 0, api.ErrWouldBlock
	}
	head := &t.script[0]
	if head.err != nil {
		err := head.err
		// EOF is sticky, like a half-closed socket.
		if err != io.EOF {
			t.script = t.script[1:]
		}
		return 0, err
	}
	n := len(head.data)
	if t.maxRead > 0 && n > t.maxRead {
		n = t.maxRead
	}
	n = copy(p, head.data[:n])
	head.data = head.data[n:]
	if len(head.data) == 0 {
		t.script = t.script[1:]
	}
	return n, nil
}

// Write implements api.ByteSink.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes++
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	n := len(p)
	if t.maxWrite > 0 && n > t.maxWrite {
		n = t.maxWrite
	}
	if t.budget >= 0 && n > t.budget {
		n = t.budget
	}
	if n == 0 && len(p) > 0 {
		return 0, api.ErrWouldBlock
	}
	t.written = append(t.written, p[:n]...)
	if t.budget >= 0 {
		t.budget -= n
	}
	return n, nil
}

// Close implements api.NetConn.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// RawFD implements api.NetConn; fakes have no descriptor.
func (t *Transport) RawFD() int { return -1 }

// RemoteAddr implements api.NetConn.
func (t *Transport) RemoteAddr() string { return "fake:0" }

// Written returns a copy of everything accepted by Write.
func (t *Transport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.written...)
}

// Calls reports how many times Read and Write were invoked.
func (t *Transport) Calls() (reads, writes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads, t.writes
}

// IsClosed reports whether Close was called.
func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

var _ api.NetConn = (*Transport)(nil)
