package socket

import (
	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// Dealer implements the DEALER pattern: round-robin send
// across attached pipes, fair-queued receive, no envelope handling (that
// is ROUTER's job on the other end of the conversation).
type Dealer struct {
	fq fanQueue
}

// NewDealer creates a Pattern for a DEALER socket.
func NewDealer() *Dealer { return &Dealer{} }

func (s *Dealer) Type() mechanism.SocketType { return mechanism.Dealer }

func (s *Dealer) XAttachPipe(p *pipe.Pipe, identity []byte) {
	s.fq.add(p)
}

func (s *Dealer) XReadActivated(p *pipe.Pipe)  {}
func (s *Dealer) XWriteActivated(p *pipe.Pipe) {}
func (s *Dealer) XHiccuped(p *pipe.Pipe)       {}

func (s *Dealer) XPipeTerminated(p *pipe.Pipe) {
	s.fq.remove(p)
}

func (s *Dealer) XSend(msg zmsg.Message) error {
	p, ok := s.fq.nextSend()
	if !ok {
		return zerr.EAgain
	}
	wrote, err := p.Write(msg)
	if err != nil {
		return err
	}
	if !wrote {
		return zerr.EAgain
	}
	if !msg.More() {
		s.fq.endSend()
		return p.Flush()
	}
	return nil
}

func (s *Dealer) XRecv() (zmsg.Message, error) {
	m, _, err := s.fq.recv()
	return m, err
}

func (s *Dealer) XPendingOut() int { return s.fq.pendingOut() }

func (s *Dealer) XHasIn() bool  { return s.fq.hasIn() }
func (s *Dealer) XHasOut() bool { return s.fq.hasOut() }
