// File: pool/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity buffer pool with three ownership lists (free, ready, busy).
// Slots live in one array and are linked by index; a single mutex guards all
// list mutation and is never held while buffer contents are touched.

package pool

import (
	"sync"

	"github.com/momentics/hioload-pipe/api"
)

type listID uint8

const (
	listFree listID = iota
	listReady
	listBusy
	numLists
)

func (l listID) String() string {
	switch l {
	case listFree:
		return "free"
	case listReady:
		return "ready"
	case listBusy:
		return "busy"
	default:
		return "unknown"
	}
}

const nilSlot = -1

type slot struct {
	buf        *Buffer
	owner      listID
	prev, next int
}

type list struct {
	head, tail int
	n          int
}

// Pool hands buffers between a producer and a consumer without copying. Every slot
// is always a member of exactly one list, and slots only move free→busy, ready→busy,
// busy→ready or busy→free.
type Pool struct {
	mu        sync.Mutex
	slots     []slot
	lists     [numLists]list
	destroyed bool
}

// New creates a pool of size buffers, each pre-allocated with capacity bytes.
// Capacity 0 leaves the slots empty until first use.
func New(size, capacity int) (*Pool, error) {
	if size <= 0 {
		return nil, api.ErrInvalidArgument
	}
	p := &Pool{slots: make([]slot, size)}
	for i := range p.lists {
		p.lists[i] = list{head: nilSlot, tail: nilSlot}
	}
	for i := range p.slots {
		b := &Buffer{slot: i}
		if err := b.Init(capacity); err != nil {
			return nil, err
		}
		p.slots[i].buf = b
		p.pushBack(listFree, i)
	}
	return p, nil
}

// AcquireFree moves the head of the free list to busy. A nil result means the pool
// is exhausted and the caller must apply backpressure.
func (p *Pool) AcquireFree() *Buffer {
	return p.take(listFree)
}

// AcquireReady moves the head of the ready list to busy. A nil result is the
// normal idle condition.
func (p *Pool) AcquireReady() *Buffer {
	return p.take(listReady)
}

// PublishReady appends a busy buffer to the tail of the ready list.
func (p *Pool) PublishReady(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.checkBusy(b, "publish")
	p.unlink(i)
	p.pushBack(listReady, i)
}

// Release returns a busy buffer to the front of the free list, making it the next
// candidate for AcquireFree. Its cursors are reset.
func (p *Pool) Release(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.checkBusy(b, "release")
	b.Reset()
	p.unlink(i)
	p.pushFront(listFree, i)
}

// RequeueFront gives a busy buffer back without losing its place: empty buffers are
// released, buffers with pending bytes go to the front of the ready list.
func (p *Pool) RequeueFront(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.checkBusy(b, "requeue")
	p.unlink(i)
	if b.Len() == 0 {
		b.Reset()
		p.pushFront(listFree, i)
		return
	}
	p.pushFront(listReady, i)
}

// FreeLen reports the number of free buffers.
func (p *Pool) FreeLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lists[listFree].n
}

// ReadyLen reports the number of buffers awaiting a consumer.
func (p *Pool) ReadyLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lists[listReady].n
}

// Size reports the total number of slots.
func (p *Pool) Size() int { return len(p.slots) }

// Stats returns a snapshot of list occupancy.
func (p *Pool) Stats() api.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.PoolStats{
		Size:  len(p.slots),
		Free:  p.lists[listFree].n,
		Ready: p.lists[listReady].n,
		Busy:  p.lists[listBusy].n,
	}
}

// Destroy releases every buffer's storage. Afterwards both acquire calls return nil.
// Buffers still held by callers keep their handles but lose their storage.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	for i := range p.slots {
		if b := p.slots[i].buf; b != nil {
			b.Destroy()
		}
	}
}

func (p *Pool) take(from listID) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.lists[from].head
	if p.destroyed || i == nilSlot {
		return nil
	}
	p.unlink(i)
	p.pushBack(listBusy, i)
	return p.slots[i].buf
}

// checkBusy resolves b to its slot index and panics unless the caller holds it.
func (p *Pool) checkBusy(b *Buffer, op string) int {
	if b == nil || b.slot < 0 || b.slot >= len(p.slots) || p.slots[b.slot].buf != b {
		panic(api.ContractViolation(op + ": buffer does not belong to this pool").
			WithContext("op", op))
	}
	if owner := p.slots[b.slot].owner; owner != listBusy {
		panic(api.ContractViolation(op + ": buffer is not busy").
			WithContext("slot", b.slot).WithContext("list", owner.String()))
	}
	return b.slot
}

func (p *Pool) unlink(i int) {
	s := &p.slots[i]
	l := &p.lists[s.owner]
	if s.prev != nilSlot {
		p.slots[s.prev].next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nilSlot {
		p.slots[s.next].prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next = nilSlot, nilSlot
	l.n--
}

func (p *Pool) pushBack(to listID, i int) {
	s := &p.slots[i]
	l := &p.lists[to]
	s.owner = to
	s.prev, s.next = l.tail, nilSlot
	if l.tail != nilSlot {
		p.slots[l.tail].next = i
	} else {
		l.head = i
	}
	l.tail = i
	l.n++
}

func (p *Pool) pushFront(to listID, i int) {
	s := &p.slots[i]
	l := &p.lists[to]
	s.owner = to
	s.prev, s.next = nilSlot, l.head
	if l.head != nilSlot {
		p.slots[l.head].prev = i
	} else {
		l.tail = i
	}
	l.head = i
	l.n++
}
