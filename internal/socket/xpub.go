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

// XPubConfig carries the XPUB-specific option set.
type XPubConfig struct {
	// Verbose requests a notification for every SUBSCRIBE, including
	// duplicates of an already-active topic.
	Verbose bool
	// Verboser additionally notifies duplicate CANCELs.
	Verboser bool
	// Manual disables automatic registration: subscription arrival is
	// surfaced on recv but does not alter the forwarding state, leaving
	// registration to the application via Subscribe/Unsubscribe.
	Manual bool
	// NoDrop makes a send that hits a subscriber's HWM report EAgain
	// instead of silently dropping the message for that subscriber.
	NoDrop bool
}

// XPub implements the XPUB pattern: like PUB, but subscribe/unsubscribe
// notifications are surfaced to the application on recv as a single
// frame `[0x01|0x00]<topic>`, instead of being handled invisibly.
type XPub struct {
	cfg     XPubConfig
	subs    map[*pipe.Pipe]*trie.Trie
	agg     *trie.Trie
	pending []zmsg.Message
	coll    metrics.Collector
}

// NewXPub creates a Pattern for an XPUB socket.
func NewXPub(cfg XPubConfig) *XPub {
	return &XPub{
		cfg:  cfg,
		subs: make(map[*pipe.Pipe]*trie.Trie),
		agg:  trie.New(),
		coll: &metrics.NoopCollector{},
	}
}

func (s *XPub) Type() mechanism.SocketType { return mechanism.XPub }

// SetCollector wires the socket's metrics collector in, replacing the
// no-op default.
func (s *XPub) SetCollector(coll metrics.Collector) {
	if coll != nil {
		s.coll = coll
	}
}

func (s *XPub) XAttachPipe(p *pipe.Pipe, identity []byte) {
	s.subs[p] = trie.New()
}

func (s *XPub) XReadActivated(p *pipe.Pipe) {
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
			if s.cfg.Manual {
				// Manual mode: surface the request, leave the forwarding
				// tries untouched for the application to manage.
				s.queueNotify(topic, true)
				continue
			}
			peerNew := t.Add(topic)
			first := s.agg.Add(topic)
			if first || (s.cfg.Verbose && peerNew) {
				s.queueNotify(topic, true)
			}
		case wire.CmdNameCancel:
			if s.cfg.Manual {
				s.queueNotify(topic, false)
				continue
			}
			peerGone := t.Rm(topic)
			last := s.agg.Rm(topic)
			if last || (s.cfg.Verboser && peerGone) {
				s.queueNotify(topic, false)
			}
		}
	}
}

// Subscribe registers topic against every attached pipe's forwarding
// state, the manual-mode counterpart of automatic registration.
func (s *XPub) Subscribe(topic []byte) error {
	for _, t := range s.subs {
		t.Add(topic)
	}
	s.agg.Add(topic)
	return nil
}

// Unsubscribe withdraws a manual Subscribe.
func (s *XPub) Unsubscribe(topic []byte) error {
	for _, t := range s.subs {
		t.Rm(topic)
	}
	s.agg.Rm(topic)
	return nil
}

// TopicsCount reports the number of distinct topics with at least one
// live subscriber across all attached pipes.
func (s *XPub) TopicsCount() int {
	return s.agg.Count()
}

func (s *XPub) queueNotify(topic []byte, subscribe bool) {
	body := make([]byte, 1+len(topic))
	if subscribe {
		body[0] = 0x01
	} else {
		body[0] = 0x00
	}
	copy(body[1:], topic)
	msg, err := zmsg.InitBuffer(body)
	if err != nil {
		return
	}
	s.pending = append(s.pending, msg)
}

func (s *XPub) XWriteActivated(p *pipe.Pipe) {}
func (s *XPub) XHiccuped(p *pipe.Pipe)       {}

func (s *XPub) XPipeTerminated(p *pipe.Pipe) {
	t, ok := s.subs[p]
	if ok {
		t.Apply(func(topic []byte) {
			if s.agg.Rm(topic) {
				s.queueNotify(topic, false)
			}
		})
	}
	delete(s.subs, p)
}

// XSend fans msg out to every subscriber whose trie matches the
// message's leading topic bytes. A subscriber at its HWM is skipped
// (counted as a drop) by default; with NoDrop the whole send reports
// EAgain so the caller retries once the subscriber drains.
func (s *XPub) XSend(msg zmsg.Message) error {
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
			if s.cfg.NoDrop {
				return zerr.EAgain
			}
			s.coll.HWMDrop(string(mechanism.XPub))
			continue
		}
		if !out.More() {
			_ = p.Flush()
		}
	}
	return nil
}

func (s *XPub) XPendingOut() int {
	n := 0
	for p := range s.subs {
		n += p.Pending()
	}
	return n
}

// XRecv drains queued subscribe/cancel notifications before anything
// else; XPUB has no other source of inbound application data.
func (s *XPub) XRecv() (zmsg.Message, error) {
	if len(s.pending) == 0 {
		return zmsg.Message{}, zerr.EAgain
	}
	m := s.pending[0]
	s.pending = s.pending[1:]
	return m, nil
}

func (s *XPub) XHasIn() bool  { return len(s.pending) > 0 }
func (s *XPub) XHasOut() bool { return true }
