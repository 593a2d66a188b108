package socket

import (
	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/metrics"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/trie"
	"github.com/infodancer/serverlink/internal/wire"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// Pub implements the PUB pattern: fan-out send filtered
// per subscriber by that subscriber's own subscription trie, built from
// the SUBSCRIBE/CANCEL command frames each subscriber's pipe carries
// upstream. PUB never delivers application data on recv.
type Pub struct {
	subs map[*pipe.Pipe]*trie.Trie
	coll metrics.Collector
}

// NewPub creates a Pattern for a PUB socket.
func NewPub() *Pub {
	return &Pub{
		subs: make(map[*pipe.Pipe]*trie.Trie),
		coll: &metrics.NoopCollector{},
	}
}

// SetCollector wires the socket's metrics collector in, replacing the
// no-op default.
func (s *Pub) SetCollector(coll metrics.Collector) {
	if coll != nil {
		s.coll = coll
	}
}

func (s *Pub) Type() mechanism.SocketType { return mechanism.Pub }

func (s *Pub) XAttachPipe(p *pipe.Pipe, identity []byte) {
	s.subs[p] = trie.New()
}

// XReadActivated drains every pending command frame on p, applying each
// SUBSCRIBE/CANCEL to that peer's subscription trie.
func (s *Pub) XReadActivated(p *pipe.Pipe) {
	t, ok := s.subs[p]
	if !ok {
		return
	}
	for {
		m, ok, err := p.Read()
		if err != nil || !ok {
			return
		}
		if !m.IsCommand() {
			continue
		}
		name, topic, err := wire.ParseCommandName(m.Data())
		if err != nil {
			continue
		}
		switch name {
		case wire.CmdNameSubscribe:
			t.Add(topic)
		case wire.CmdNameCancel:
			t.Rm(topic)
		}
	}
}

func (s *Pub) XWriteActivated(p *pipe.Pipe) {}
func (s *Pub) XHiccuped(p *pipe.Pipe)       {}

func (s *Pub) XPipeTerminated(p *pipe.Pipe) {
	delete(s.subs, p)
}

// XSend fans msg out to every subscriber whose trie matches the message's
// leading topic bytes, dropping silently on any pipe at its HWM.
func (s *Pub) XSend(msg zmsg.Message) error {
	for p, t := range s.subs {
		if !t.Check(msg.Data()) {
			continue
		}
		var out zmsg.Message
		if err := out.Copy(&msg); err != nil {
			continue
		}
		ok, err := p.Write(out)
		if err != nil {
			continue
		}
		if !ok {
			s.coll.HWMDrop(string(mechanism.Pub))
			continue
		}
		if !out.More() {
			_ = p.Flush()
		}
	}
	return nil
}

func (s *Pub) XPendingOut() int {
	n := 0
	for p := range s.subs {
		n += p.Pending()
	}
	return n
}

func (s *Pub) XRecv() (zmsg.Message, error) {
	return zmsg.Message{}, zerr.EFsm
}

func (s *Pub) XHasIn() bool  { return false }
func (s *Pub) XHasOut() bool { return true }
