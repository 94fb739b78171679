//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based readiness multiplexer. Level-triggered: a descriptor keeps
// being reported for as long as its condition holds.

package reactor

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-pipe/api"
)

const maxEvents = 128

type registration struct {
	events api.IOEvents
	cb     api.IOCallback
}

// Poller implements api.Reactor on top of epoll.
type Poller struct {
	epfd int

	mu     sync.Mutex
	regs   map[int]registration
	closed bool

	buf [maxEvents]unix.EpollEvent
}

// NewPoller creates a new epoll instance.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Poller{epfd: epfd, regs: make(map[int]registration)}, nil
}

// Register adds fd to the watch list with the given interest set.
func (p *Poller) Register(fd int, events api.IOEvents, cb api.IOCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrPollerClosed
	}
	if _, ok := p.regs[fd]; ok {
		return api.ErrFDAlreadyWatched
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	p.regs[fd] = registration{events: events, cb: cb}
	return nil
}

// Modify replaces the interest set of fd. Error and hangup conditions are reported
// even with an empty set.
func (p *Poller) Modify(fd int, events api.IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrPollerClosed
	}
	reg, ok := p.regs[fd]
	if !ok {
		return api.ErrFDNotWatched
	}
	if reg.events == events {
		return nil
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd %d: %w", fd, err)
	}
	reg.events = events
	p.regs[fd] = reg
	return nil
}

// Unregister removes fd from the watch list.
func (p *Poller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrPollerClosed
	}
	if _, ok := p.regs[fd]; !ok {
		return api.ErrFDNotWatched
	}
	delete(p.regs, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Interest reports the current interest set of fd.
func (p *Poller) Interest(fd int) (api.IOEvents, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[fd]
	return reg.events, ok
}

// Len reports the number of registered descriptors.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regs)
}

// Poll waits up to timeoutMs (-1 blocks) and runs callbacks inline on the calling
// goroutine. Poll is not reentrant; only the owning loop calls it.
func (p *Poller) Poll(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.buf[:], timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		raw := p.buf[i]
		p.mu.Lock()
		reg, ok := p.regs[int(raw.Fd)]
		p.mu.Unlock()
		// Unregistered by an earlier callback of this batch.
		if !ok {
			continue
		}
		reg.cb(fromEpoll(raw.Events))
	}
	return n, nil
}

// Close releases the epoll descriptor. Registered descriptors are not closed.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.regs = nil
	return unix.Close(p.epfd)
}

func toEpoll(events api.IOEvents) uint32 {
	var e uint32
	if events&api.EventRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&api.EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) api.IOEvents {
	var events api.IOEvents
	if e&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		events |= api.EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= api.EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= api.EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= api.EventHangup
	}
	return events
}

var _ api.Reactor = (*Poller)(nil)
