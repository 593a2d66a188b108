package socket

import (
	"crypto/rand"

	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// autoIdentity mints a ZMTP-style auto-generated routing id: a 0x00
// byte followed by 4 random bytes, the conventional anonymous peer
// naming, so ROUTER always has a key to route by.
func autoIdentity() []byte {
	id := make([]byte, 5)
	id[0] = 0x00
	_, _ = rand.Read(id[1:])
	return id
}

// Router implements the ROUTER pattern:
// frames received are prefixed with the originating peer's routing id;
// frames sent must be prefixed with the destination peer's routing id,
// which is stripped before the remaining frames are written to that
// peer's pipe.
type Router struct {
	fq   fanQueue
	byID map[string]*pipe.Pipe
	id   map[*pipe.Pipe][]byte

	// send-side state: which peer the current outbound multi-part
	// message is addressed to, or whether it is being silently sunk
	// because the id frame named an unknown peer.
	sendTo  *pipe.Pipe
	sinking bool

	// recv-side state: the in-progress delivery. awaitingID is true
	// between messages, when the next XRecv call must synthesize the
	// source identity frame before any body frame is returned.
	awaitingID bool
	curSrc     *pipe.Pipe
	curFrame   *zmsg.Message

	mandatory bool
	handover  bool
}

// NewRouter creates a Pattern for a ROUTER socket. mandatory enables
// ROUTER_MANDATORY (unroutable sends fail with EHOSTUNREACH instead of
// being silently dropped); handover enables ROUTER_HANDOVER (a new
// connection reusing an identity displaces the old one instead of being
// assigned a fresh one).
func NewRouter(mandatory, handover bool) *Router {
	return &Router{
		byID:       make(map[string]*pipe.Pipe),
		id:         make(map[*pipe.Pipe][]byte),
		awaitingID: true,
		mandatory:  mandatory,
		handover:   handover,
	}
}

func (s *Router) Type() mechanism.SocketType { return mechanism.Router }

func (s *Router) XAttachPipe(p *pipe.Pipe, identity []byte) {
	if len(identity) == 0 {
		identity = autoIdentity()
	}
	key := string(identity)
	if old, exists := s.byID[key]; exists && old != p {
		if s.handover {
			s.detach(old)
		} else {
			// Without ROUTER_HANDOVER, a colliding identity is rejected by
			// minting a fresh one rather than displacing the incumbent.
			identity = autoIdentity()
			key = string(identity)
		}
	}
	s.id[p] = identity
	s.byID[key] = p
	s.fq.add(p)
}

func (s *Router) XReadActivated(p *pipe.Pipe)  {}
func (s *Router) XWriteActivated(p *pipe.Pipe) {}
func (s *Router) XHiccuped(p *pipe.Pipe)       {}

func (s *Router) XPipeTerminated(p *pipe.Pipe) {
	s.detach(p)
}

func (s *Router) detach(p *pipe.Pipe) {
	if id, ok := s.id[p]; ok {
		if cur, exists := s.byID[string(id)]; exists && cur == p {
			delete(s.byID, string(id))
		}
		delete(s.id, p)
	}
	s.fq.remove(p)
	if s.sendTo == p {
		s.sendTo = nil
	}
	if s.curSrc == p {
		s.curSrc = nil
		s.curFrame = nil
		s.awaitingID = true
	}
}

// XSend consumes the mandatory routing-id envelope frame first, then
// writes every subsequent frame (until More()==false) to that peer's
// pipe.
func (s *Router) XSend(msg zmsg.Message) error {
	if s.sinking {
		if !msg.More() {
			s.sinking = false
		}
		return nil
	}

	if s.sendTo == nil {
		p, ok := s.byID[string(msg.Data())]
		if !ok {
			if s.mandatory {
				return zerr.EHostUnreach
			}
			if msg.More() {
				s.sinking = true
			}
			return nil
		}
		s.sendTo = p
		return nil
	}

	p := s.sendTo
	more := msg.More()
	wrote, err := p.Write(msg)
	if err != nil {
		return err
	}
	if !more {
		s.sendTo = nil
	}
	if !wrote {
		if s.mandatory {
			return zerr.EAgain
		}
		return nil
	}
	if !more {
		return p.Flush()
	}
	return nil
}

// XRecv delivers the routing-id envelope frame first for each inbound
// message, then the message's own frames, fair-queued across peers.
func (s *Router) XRecv() (zmsg.Message, error) {
	if s.awaitingID {
		if s.curFrame == nil {
			m, src, err := s.fq.recv()
			if err != nil {
				return zmsg.Message{}, err
			}
			s.curFrame = &m
			s.curSrc = src
		}
		s.awaitingID = false
		id := s.id[s.curSrc]
		idMsg, err := zmsg.InitBuffer(id)
		if err != nil {
			return zmsg.Message{}, err
		}
		idMsg.SetFlags(zmsg.FlagMore)
		return idMsg, nil
	}

	if s.curFrame == nil {
		m, _, err := s.fq.recv()
		if err != nil {
			return zmsg.Message{}, err
		}
		s.curFrame = &m
	}
	m := *s.curFrame
	s.curFrame = nil
	if !m.More() {
		s.awaitingID = true
	}
	return m, nil
}

func (s *Router) XPendingOut() int { return s.fq.pendingOut() }

func (s *Router) XHasIn() bool  { return !s.awaitingID || s.fq.hasIn() }
func (s *Router) XHasOut() bool { return true }
