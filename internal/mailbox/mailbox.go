// Package mailbox implements the cross-thread command channel: a bounded SPSC queue of tagged commands plus a Signaler used to
// wake the owning thread's event loop when it is not already polling the
// queue directly.
package mailbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/infodancer/serverlink/internal/queue"
	"github.com/infodancer/serverlink/internal/zerr"
)

// Kind tags the command variants exchanged between threads.
type Kind int

const (
	CmdStop Kind = iota
	CmdPlug
	CmdOwn
	CmdAttach
	CmdBind
	CmdActivateRead
	CmdActivateWrite
	CmdHiccup
	CmdPipeTerm
	CmdPipeTermAck
	CmdTermReq
	CmdTerm
	CmdTermAck
	CmdReap
	CmdReaped
	CmdInprocConnected
)

func (k Kind) String() string {
	names := [...]string{
		"stop", "plug", "own", "attach", "bind",
		"activate_read", "activate_write", "hiccup",
		"pipe_term", "pipe_term_ack", "term_req", "term", "term_ack",
		"reap", "reaped", "inproc_connected",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Command is one tagged-union entry delivered through a Mailbox.
// Arg/Source hold the kind-specific payload (e.g. a *pipe.Pipe for
// pipe_term, a socket reference for own) — left as `any` since payload
// shapes are owned by the higher layers that enqueue them.
type Command struct {
	Kind   Kind
	Arg    any
	Source any
}

const defaultCapacity = 256

// Mailbox delivers Commands in FIFO order from any sending thread to the
// single owning thread's event loop.
type Mailbox struct {
	mu       sync.Mutex // serializes concurrent senders on the single-producer queue
	q        *queue.YPipe[Command]
	sig      *Signaler
	active   bool // set by the owning thread while actively polling the queue
}

// New creates a Mailbox with its own Signaler.
func New() (*Mailbox, error) {
	sig, err := NewSignaler()
	if err != nil {
		return nil, err
	}
	return &Mailbox{q: queue.New[Command](defaultCapacity), sig: sig}, nil
}

// Signaler returns the mailbox's wakeup signaler, the value registered
// with a poller.
func (m *Mailbox) Signaler() *Signaler { return m.sig }

// SetActive marks whether the owning thread is currently polling the
// queue directly (true) or parked waiting on the signaler (false). The
// owning thread alone calls this.
func (m *Mailbox) SetActive(active bool) { m.active = active }

// Send enqueues cmd. If the reader is not marked active, Send also fires
// the signaler so the owning thread's poller wakes up.
func (m *Mailbox) Send(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.q.Write(cmd); err != nil {
		return fmt.Errorf("mailbox: send %s: %w", cmd.Kind, err)
	}
	if !m.active {
		return m.sig.Send()
	}
	return nil
}

// Recv retrieves the next command. If the mailbox is active it pops
// directly; otherwise it waits on the signaler (honoring timeout, < 0
// for indefinite) before draining and popping. zerr.EAgain is returned
// when no command is available within timeout.
func (m *Mailbox) Recv(timeout time.Duration) (Command, error) {
	if m.active {
		cmd, err := m.q.Read()
		if err != nil {
			return Command{}, err
		}
		return cmd, nil
	}

	if err := m.sig.Wait(timeout); err != nil {
		return Command{}, fmt.Errorf("mailbox: recv: %w: %v", zerr.EAgain, err)
	}
	return m.q.Read()
}

// Close releases the mailbox's signaler resources.
func (m *Mailbox) Close() error {
	return m.sig.Close()
}
