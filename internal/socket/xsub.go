package socket

import (
	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/trie"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// XSub implements the XSUB pattern: like SUB, but
// subscribe/unsubscribe is driven by the application writing a control
// frame (`0x01<topic>` / `0x00<topic>`) through XSend rather than a
// dedicated API, and ordinary data is passed straight through both ways
// so XSUB can sit inside a proxy alongside XPUB.
type XSub struct {
	fq   fanQueue
	subs *trie.Trie
}

// NewXSub creates a Pattern for an XSUB socket.
func NewXSub() *XSub {
	return &XSub{subs: trie.New()}
}

func (s *XSub) Type() mechanism.SocketType { return mechanism.XSub }

func (s *XSub) XAttachPipe(p *pipe.Pipe, identity []byte) {
	s.fq.add(p)
	s.subs.Apply(func(topic []byte) {
		_ = sendSubscribeCmd(p, topic, true)
	})
}

func (s *XSub) XReadActivated(p *pipe.Pipe)  {}
func (s *XSub) XWriteActivated(p *pipe.Pipe) {}
func (s *XSub) XHiccuped(p *pipe.Pipe)       {}

func (s *XSub) XPipeTerminated(p *pipe.Pipe) {
	s.fq.remove(p)
}

// Subscribe forwards a SUBSCRIBE command on every attached pipe, the
// same way the application-facing control-frame path does.
func (s *XSub) Subscribe(topic []byte) error {
	if !s.subs.Add(topic) {
		return nil
	}
	for _, p := range s.fq.pipes {
		if err := sendSubscribeCmd(p, topic, true); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe forwards a CANCEL command on every attached pipe.
func (s *XSub) Unsubscribe(topic []byte) error {
	if !s.subs.Rm(topic) {
		return nil
	}
	for _, p := range s.fq.pipes {
		if err := sendSubscribeCmd(p, topic, false); err != nil {
			return err
		}
	}
	return nil
}

// TopicsCount reports the number of distinct live subscriptions.
func (s *XSub) TopicsCount() int {
	return s.subs.Count()
}

// XSend recognizes a single-frame leading 0x01/0x00 control byte as a
// local subscribe/cancel request; anything else is forwarded
// upstream unmodified, round-robin across attached pipes.
func (s *XSub) XSend(msg zmsg.Message) error {
	data := msg.Data()
	if !msg.More() && len(data) > 0 && (data[0] == 0x01 || data[0] == 0x00) {
		if data[0] == 0x01 {
			return s.Subscribe(data[1:])
		}
		return s.Unsubscribe(data[1:])
	}

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

// XRecv fair-queues data frames from attached pipes, silently dropping
// any stray command frame (SUBSCRIBE/CANCEL never flows downstream).
func (s *XSub) XRecv() (zmsg.Message, error) {
	for {
		m, _, err := s.fq.recv()
		if err != nil {
			return zmsg.Message{}, err
		}
		if m.IsCommand() {
			continue
		}
		return m, nil
	}
}

func (s *XSub) XPendingOut() int { return s.fq.pendingOut() }

func (s *XSub) XHasIn() bool  { return s.fq.hasIn() }
func (s *XSub) XHasOut() bool { return s.fq.hasOut() }
