// Package pipe implements the bidirectional half-pipe pair: HWM-bounded message queues in each direction between a session
// and its peer (another session, or the far side of an inproc
// connection), plus the three-step DELIMITER-based termination protocol.
package pipe

import (
	"fmt"
	"sync"

	"github.com/infodancer/serverlink/internal/mailbox"
	"github.com/infodancer/serverlink/internal/queue"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// State is the pipe's termination state.
type State int

const (
	Active State = iota
	DelimiterReceived
	WaitingForDelimiter
	TermAckSent
	TermReqSent1
	TermReqSent2
	Terminated
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case DelimiterReceived:
		return "DELIMITER_RECEIVED"
	case WaitingForDelimiter:
		return "WAITING_FOR_DELIMITER"
	case TermAckSent:
		return "TERM_ACK_SENT"
	case TermReqSent1:
		return "TERM_REQ_SENT_1"
	case TermReqSent2:
		return "TERM_REQ_SENT_2"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// queueCapacity is the physical capacity every backing YPipe is allocated
// with, independent of the configured HWM. lfq.NewSPSC
// panics below capacity 2 and otherwise rounds up to the next power of
// two, so relying on it directly for HWM enforcement either panics (e.g.
// hwm==1) or admits more than H outstanding messages (any
// non-power-of-two hwm); a fixed, comfortably large capacity sidesteps
// both and the outstanding field below does the actual enforcement.
const queueCapacity = 1024

// Pipe is one endpoint of a bidirectional half-pipe pair. The outbound
// queue is written by this endpoint and read by the peer; the inbound
// queue is the reverse. Peer returns the other endpoint.
type Pipe struct {
	mu sync.Mutex

	hwm     int
	out     *queue.YPipe[zmsg.Message]
	in      *queue.YPipe[zmsg.Message]
	peer    *Pipe
	peerBox *mailbox.Mailbox

	// outstanding counts messages written to out that the peer has not
	// yet popped via its Read. Write consults this,
	// not the backing queue's physical capacity, to decide HWM exceeded.
	outstanding int

	msgsRead     uint64
	state        State
	peerIdentity []byte
}

// NewPair builds two Pipe endpoints sharing a pair of queues, each
// logically bounded by hwm (0 disables the bound). The queues themselves
// are always allocated with queueCapacity; hwm is enforced separately via
// each Pipe's outstanding counter. peerBoxes are the mailboxes used to
// notify the opposite endpoint's owning thread of activate_read /
// pipe_term commands.
func NewPair(hwm int, boxA, boxB *mailbox.Mailbox) (a, b *Pipe) {
	q1 := queue.New[zmsg.Message](queueCapacity) // A writes, B reads
	q2 := queue.New[zmsg.Message](queueCapacity) // B writes, A reads

	a = &Pipe{hwm: hwm, out: q1, in: q2, peerBox: boxB}
	b = &Pipe{hwm: hwm, out: q2, in: q1, peerBox: boxA}
	a.peer = b
	b.peer = a
	return a, b
}

// Read pops one message from the inbound queue. ok is false when the
// queue is currently empty.
func (p *Pipe) Read() (msg zmsg.Message, ok bool, err error) {
	m, err := p.in.Read()
	if err != nil {
		if zerr.Is(err, zerr.EAgain) {
			return zmsg.Message{}, false, nil
		}
		return zmsg.Message{}, false, err
	}
	if !m.IsDelimiter() {
		p.mu.Lock()
		p.msgsRead++
		p.mu.Unlock()
	}

	// p.in is p.peer's out queue: popping a message here is the other
	// half of p.peer's outstanding count (see Write), so it is decremented
	// on p.peer, not p.
	if p.peer != nil {
		p.peer.mu.Lock()
		if p.peer.outstanding > 0 {
			p.peer.outstanding--
		}
		p.peer.mu.Unlock()
	}

	if m.IsDelimiter() {
		p.onDelimiterReceived()
		return zmsg.Message{}, false, nil
	}
	return m, true, nil
}

// Write pushes msg to the outbound queue. ok is false when the HWM has
// been reached; the message is not enqueued in that case.
func (p *Pipe) Write(msg zmsg.Message) (ok bool, err error) {
	// outstanding (msgs_written - peers_msgs_read), not the backing
	// queue's physical capacity, is the HWM enforcement point; see queueCapacity's doc comment for why the queue's own
	// capacity cannot serve this role.
	p.mu.Lock()
	if p.hwm > 0 && p.outstanding >= p.hwm {
		p.mu.Unlock()
		return false, nil
	}
	p.outstanding++
	p.mu.Unlock()

	if err := p.out.Write(msg); err != nil {
		p.mu.Lock()
		p.outstanding--
		p.mu.Unlock()
		if zerr.Is(err, zerr.EAgain) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Flush makes buffered writes visible to the peer and, if the peer's
// thread was idle, sends activate_read to its mailbox.
func (p *Pipe) Flush() error {
	if p.peerBox == nil {
		return nil
	}
	return p.peerBox.Send(mailbox.Command{Kind: mailbox.CmdActivateRead, Source: p})
}

// Rollback discards buffered outbound state that has not been
// flushed. In this queue-backed design there is no separate staging
// buffer to roll back (every Write is immediately visible once enqueued),
// so Rollback is a no-op retained for interface symmetry; a
// future batching layer would hook in here.
func (p *Pipe) Rollback() {}

// Hiccup posts a hiccup command to the peer's mailbox, telling the far
// side that this pipe saw a transport reconnection. It changes no local
// state.
func (p *Pipe) Hiccup() error {
	if p.peerBox == nil {
		return nil
	}
	return p.peerBox.Send(mailbox.Command{Kind: mailbox.CmdHiccup, Source: p})
}

// Terminate begins the three-step teardown. If delay is true
// the caller is expected to have already drained pending outbound
// messages; Terminate itself always ends by writing exactly one
// DELIMITER to the outbound queue.
func (p *Pipe) Terminate(delay bool) error {
	p.mu.Lock()
	switch p.state {
	case Terminated, TermReqSent1, TermReqSent2, TermAckSent:
		p.mu.Unlock()
		return nil
	}
	p.state = TermReqSent1
	p.mu.Unlock()

	if err := p.out.Write(zmsg.InitDelimiter()); err != nil {
		return fmt.Errorf("pipe: terminate: write delimiter: %w", err)
	}
	return p.Flush()
}

// onDelimiterReceived runs when Read pops a DELIMITER off the inbound
// queue, advancing the termination state machine.
func (p *Pipe) onDelimiterReceived() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// The DELIMITER is the last thing the peer writes on this half;
	// release the queue's livelock-prevention threshold so any messages
	// still buffered ahead of it can be drained.
	p.in.Drain()

	switch p.state {
	case Active:
		// Peer-initiated teardown: we haven't sent our own DELIMITER yet.
		p.state = DelimiterReceived
		p.ackLocked()
	case TermReqSent1:
		// Both sides sent a DELIMITER; this side acks and is fully done.
		p.state = TermAckSent
		p.ackLocked()
		p.state = Terminated
	case TermReqSent2:
		p.state = Terminated
	default:
		// Stray DELIMITER after termination; ignore.
	}
}

// ackLocked sends term_ack to the peer's mailbox. Caller holds p.mu.
func (p *Pipe) ackLocked() {
	if p.peerBox != nil {
		_ = p.peerBox.Send(mailbox.Command{Kind: mailbox.CmdTermAck, Source: p})
	}
}

// OnTermAck is invoked by the owning thread's event loop when a
// term_ack command addressed to this pipe arrives from the peer.
func (p *Pipe) OnTermAck() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case TermReqSent1:
		p.state = Terminated
	case DelimiterReceived:
		p.state = Terminated
	}
}

// State returns the current termination state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Terminated reports whether both endpoints have completed teardown and
// the pipe is ready for the reaper to free it.
func (p *Pipe) Terminated() bool {
	return p.State() == Terminated
}

// Pending returns the number of messages written to the outbound queue
// that the peer has not yet read.
func (p *Pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// MsgsRead returns the count of non-delimiter messages popped via Read.
func (p *Pipe) MsgsRead() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgsRead
}

// Peer returns the other endpoint of the pair this Pipe belongs to. The
// socket layer uses this to translate a Command whose Source is the
// remote endpoint (set by the thread on the far side of a mailbox hop)
// back into the locally-owned endpoint it should act on.
func (p *Pipe) Peer() *Pipe { return p.peer }

// NotifyAttach posts the "attach" command to the peer's
// mailbox, used by the engine right after a successful handshake so the
// owning socket can promote a just-learned peer routing id (e.g. ROUTER)
// without waiting for the first data message to flow.
func (p *Pipe) NotifyAttach() error {
	if p.peerBox == nil {
		return nil
	}
	return p.peerBox.Send(mailbox.Command{Kind: mailbox.CmdAttach, Source: p})
}

// SetPeerIdentity records the peer's declared routing id on the shared
// pipe pair once the mechanism handshake has parsed it; both
// endpoints of the pair observe the same value.
func (p *Pipe) SetPeerIdentity(id []byte) {
	if len(id) == 0 {
		return
	}
	cp := append([]byte(nil), id...)
	// The two endpoint locks are taken one at a time: holding both at
	// once would deadlock against a peer doing the same in the opposite
	// order.
	p.mu.Lock()
	p.peerIdentity = cp
	p.mu.Unlock()
	if p.peer != nil {
		p.peer.mu.Lock()
		p.peer.peerIdentity = cp
		p.peer.mu.Unlock()
	}
}

// PeerIdentity returns the peer's declared routing id, or nil if the
// handshake has not completed or the peer declared none.
func (p *Pipe) PeerIdentity() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerIdentity
}
