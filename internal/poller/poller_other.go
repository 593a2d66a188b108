//go:build !linux

package poller

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/infodancer/serverlink/internal/zerr"
)

// pollPoller is the non-Linux unix fallback, built on the portable
// poll(2) wrapper in golang.org/x/sys/unix rather than a platform-native
// facility (kqueue on BSD/Darwin would be the efficient choice in a
// production deployment; poll keeps this package buildable everywhere
// golang.org/x/sys/unix runs without a second native backend per
// platform).
type pollPoller struct {
	mu        sync.Mutex
	interests map[uintptr]Event
}

// New creates the platform's native Poller backend.
func New() (Poller, error) {
	return &pollPoller{interests: make(map[uintptr]Event)}, nil
}

func (p *pollPoller) Add(fd uintptr, interest Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interests == nil {
		return fmt.Errorf("poller: closed")
	}
	if _, exists := p.interests[fd]; exists {
		return fmt.Errorf("poller: %w: fd %d already registered", zerr.EInval, fd)
	}
	p.interests[fd] = interest
	return nil
}

func (p *pollPoller) Modify(fd uintptr, interest Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interests == nil {
		return fmt.Errorf("poller: closed")
	}
	if _, exists := p.interests[fd]; !exists {
		return fmt.Errorf("poller: %w: fd %d not registered", zerr.EInval, fd)
	}
	p.interests[fd] = interest
	return nil
}

func (p *pollPoller) Remove(fd uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.interests[fd]; !exists {
		return fmt.Errorf("poller: %w: fd %d not registered", zerr.EInval, fd)
	}
	delete(p.interests, fd)
	return nil
}

func toPollEvents(e Event) int16 {
	var out int16
	if e&EventRead != 0 {
		out |= unix.POLLIN
	}
	if e&EventWrite != 0 {
		out |= unix.POLLOUT
	}
	return out
}

func fromPollEvents(e int16) Event {
	var out Event
	if e&unix.POLLIN != 0 {
		out |= EventRead
	}
	if e&unix.POLLOUT != 0 {
		out |= EventWrite
	}
	if e&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		out |= EventError
	}
	return out
}

func (p *pollPoller) Wait(timeout time.Duration) ([]Ready, error) {
	p.mu.Lock()
	fds := make([]uintptr, 0, len(p.interests))
	pollFds := make([]unix.PollFd, 0, len(p.interests))
	for fd, interest := range p.interests {
		fds = append(fds, fd)
		pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(interest)})
	}
	p.mu.Unlock()

	if len(pollFds) == 0 && timeout < 0 {
		return nil, fmt.Errorf("poller: %w: wait on empty set would sleep forever", zerr.EFault)
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}

	n, err := unix.Poll(pollFds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poller: poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]Ready, 0, n)
	for i, pf := range pollFds {
		if pf.Revents != 0 {
			out = append(out, Ready{FD: fds[i], Events: fromPollEvents(pf.Revents)})
		}
	}
	return out, nil
}

func (p *pollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interests = nil
	return nil
}
