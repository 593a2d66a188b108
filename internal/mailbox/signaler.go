package mailbox

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Signaler is a one-shot cross-thread wakeup built on a self-pipe: one
// byte written by any sender wakes a reader blocked in Wait (or parked in
// a poller watching FD()). Firing is coalesced: multiple Send calls
// between two Wait/drain cycles cost a single byte.
//
// os.Pipe is the portable backend; an eventfd would only be a
// performance refinement on Linux, not a behavioral difference.
type Signaler struct {
	r, w   *os.File
	pending atomic.Bool
}

// NewSignaler creates a Signaler backed by a fresh OS pipe.
func NewSignaler() (*Signaler, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("mailbox: create signaler pipe: %w", err)
	}
	return &Signaler{r: r, w: w}, nil
}

// Send wakes a waiter, writing one byte only if no signal is already
// pending (coalescing repeated sends into one wakeup).
func (s *Signaler) Send() error {
	if !s.pending.CompareAndSwap(false, true) {
		return nil
	}
	_, err := s.w.Write([]byte{0})
	if err != nil {
		s.pending.Store(false)
		return fmt.Errorf("mailbox: signaler send: %w", err)
	}
	return nil
}

// Wait blocks until a signal arrives or timeout elapses (timeout < 0
// blocks indefinitely), then drains the pending byte.
func (s *Signaler) Wait(timeout time.Duration) error {
	if timeout >= 0 {
		if err := s.r.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("mailbox: set signaler deadline: %w", err)
		}
		defer s.r.SetReadDeadline(time.Time{})
	}
	var b [1]byte
	if _, err := s.r.Read(b[:]); err != nil {
		return err
	}
	s.pending.Store(false)
	return nil
}

// FD returns the read end's file descriptor, the value registered with a
// poller so the signaler can be waited on alongside socket FDs.
func (s *Signaler) FD() uintptr { return s.r.Fd() }

// Close releases both ends of the pipe.
func (s *Signaler) Close() error {
	err1 := s.r.Close()
	err2 := s.w.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
