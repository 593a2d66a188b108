package socket

import (
	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// Pair implements the PAIR pattern: at most one connected
// peer, unordered send/recv straight through to that one pipe.
type Pair struct {
	p *pipe.Pipe
}

// NewPair creates a Pattern for a PAIR socket.
func NewPair() *Pair { return &Pair{} }

func (s *Pair) Type() mechanism.SocketType { return mechanism.Pair }

func (s *Pair) XAttachPipe(p *pipe.Pipe, identity []byte) {
	// PAIR admits exactly one peer: an additional connection
	// attempt while one is already active is torn down immediately, so
	// the newcomer's own first read sees its pipe terminated, rather than
	// displacing the incumbent.
	if s.p != nil && s.p != p {
		_ = p.Terminate(false)
		return
	}
	s.p = p
}

func (s *Pair) XReadActivated(p *pipe.Pipe)  {}
func (s *Pair) XWriteActivated(p *pipe.Pipe) {}
func (s *Pair) XHiccuped(p *pipe.Pipe)       {}

func (s *Pair) XPipeTerminated(p *pipe.Pipe) {
	if s.p == p {
		s.p = nil
	}
}

func (s *Pair) XSend(msg zmsg.Message) error {
	if s.p == nil {
		return zerr.EAgain
	}
	ok, err := s.p.Write(msg)
	if err != nil {
		return err
	}
	if !ok {
		return zerr.EAgain
	}
	if !msg.More() {
		return s.p.Flush()
	}
	return nil
}

func (s *Pair) XRecv() (zmsg.Message, error) {
	if s.p == nil {
		return zmsg.Message{}, zerr.EAgain
	}
	m, ok, err := s.p.Read()
	if err != nil {
		return zmsg.Message{}, err
	}
	if !ok {
		return zmsg.Message{}, zerr.EAgain
	}
	return m, nil
}

func (s *Pair) XPendingOut() int {
	if s.p == nil {
		return 0
	}
	return s.p.Pending()
}

func (s *Pair) XHasIn() bool {
	return s.p != nil
}

func (s *Pair) XHasOut() bool {
	return s.p != nil
}
