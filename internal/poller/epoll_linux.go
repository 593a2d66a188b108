//go:build linux

package poller

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/infodancer/serverlink/internal/zerr"
)

// epollPoller is the Linux backend, built on golang.org/x/sys's
// epoll_create1/epoll_ctl/epoll_wait triad.
type epollPoller struct {
	mu  sync.Mutex
	fd  int
	fds map[uintptr]Event
}

// New creates the platform's native Poller backend.
func New() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &epollPoller{fd: fd, fds: make(map[uintptr]Event)}, nil
}

func toEpollEvents(e Event) uint32 {
	var out uint32
	if e&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if e&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	if e&EventError != 0 {
		out |= unix.EPOLLERR
	}
	return out
}

func fromEpollEvents(e uint32) Event {
	var out Event
	if e&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if e&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		out |= EventError
	}
	return out
}

func (p *epollPoller) Add(fd uintptr, interest Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.fds[fd]; exists {
		return fmt.Errorf("poller: %w: fd %d already registered", zerr.EInval, fd)
	}
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl add fd=%d: %w", fd, err)
	}
	p.fds[fd] = interest
	return nil
}

func (p *epollPoller) Modify(fd uintptr, interest Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.fds[fd]; !exists {
		return fmt.Errorf("poller: %w: fd %d not registered", zerr.EInval, fd)
	}
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl mod fd=%d: %w", fd, err)
	}
	p.fds[fd] = interest
	return nil
}

func (p *epollPoller) Remove(fd uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.fds[fd]; !exists {
		return fmt.Errorf("poller: %w: fd %d not registered", zerr.EInval, fd)
	}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("poller: epoll_ctl del fd=%d: %w", fd, err)
	}
	delete(p.fds, fd)
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Ready, error) {
	p.mu.Lock()
	n := len(p.fds)
	p.mu.Unlock()
	if n == 0 && timeout < 0 {
		return nil, fmt.Errorf("poller: %w: wait on empty set would sleep forever", zerr.EFault)
	}
	if n < 16 {
		n = 16
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	events := make([]unix.EpollEvent, n)

	count, err := unix.EpollWait(p.fd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poller: epoll_wait: %w", err)
	}

	out := make([]Ready, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Ready{
			FD:     uintptr(events[i].Fd),
			Events: fromEpollEvents(events[i].Events),
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}
