// Package poller implements the readiness multiplexer an I/O thread uses
// to wait on many connection and signaler file descriptors at once: register/modify/unregister an FD for read/write interest, then
// block in Wait until one or more become ready or a deadline passes.
package poller

import "time"

// Event bits describe what became ready, or what interest to register.
type Event uint8

const (
	EventRead Event = 1 << iota
	EventWrite
	EventError
)

// Ready describes one FD's readiness as reported by Wait.
type Ready struct {
	FD     uintptr
	Events Event
}

// Poller multiplexes readiness over a set of file descriptors.
type Poller interface {
	// Add registers fd for the given interest. Registering an fd twice
	// fails with EInval.
	Add(fd uintptr, interest Event) error
	// Modify changes fd's registered interest; an unregistered fd fails
	// with EInval.
	Modify(fd uintptr, interest Event) error
	// Remove unregisters fd; an unregistered fd fails with EInval.
	Remove(fd uintptr) error
	// Wait blocks up to timeout (negative blocks indefinitely) and
	// returns the FDs that became ready. An indefinite Wait on an empty
	// set fails with EFault rather than sleeping forever.
	Wait(timeout time.Duration) ([]Ready, error)
	// Close releases the poller's own resources (e.g. the epoll FD).
	Close() error
}
