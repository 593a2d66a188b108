package socket

import (
	"fmt"

	"github.com/infodancer/serverlink/internal/glob"
	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/trie"
	"github.com/infodancer/serverlink/internal/wire"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// Subscriber is implemented by patterns that accept local
// Subscribe/Unsubscribe calls: SUB and XSUB forward them upstream as
// SUBSCRIBE / CANCEL command frames on every attached pipe, and XPUB
// applies them to its own per-pipe forwarding state.
type Subscriber interface {
	Subscribe(topic []byte) error
	Unsubscribe(topic []byte) error
}

// PatternSubscriber is implemented by patterns (SUB) that additionally
// accept glob-pattern subscriptions.
type PatternSubscriber interface {
	PSubscribe(pattern []byte) error
	PUnsubscribe(pattern []byte) error
}

// TopicsCounter is implemented by patterns that track subscriptions and
// can report the TOPICS_COUNT read-only option.
type TopicsCounter interface {
	TopicsCount() int
}

// Sub implements the SUB pattern: local subscriptions
// are tracked so a newly attached pipe (reconnect, or a second publisher)
// is replayed the full subscription set; inbound data is trusted to
// already be filtered by the PUB peer for literal topics. Glob-pattern
// subscriptions additionally filter locally, since only a pattern's
// literal prefix can be expressed upstream as a ZMTP SUBSCRIBE.
type Sub struct {
	fq    fanQueue
	subs  *trie.Trie
	globs *glob.Store

	// prefixes refcounts the literal prefixes forwarded upstream on
	// behalf of glob patterns, so two patterns sharing a prefix produce
	// one upstream SUBSCRIBE and the CANCEL only fires when the last of
	// them is withdrawn.
	prefixes *trie.Trie

	// midMessage is true while continuation frames of an already-accepted
	// multi-part message remain to be delivered; the glob filter only
	// inspects a message's first frame.
	midMessage bool
}

// NewSub creates a Pattern for a SUB socket.
func NewSub() *Sub {
	return &Sub{
		subs:     trie.New(),
		globs:    &glob.Store{},
		prefixes: trie.New(),
	}
}

func (s *Sub) Type() mechanism.SocketType { return mechanism.Sub }

func (s *Sub) XAttachPipe(p *pipe.Pipe, identity []byte) {
	s.fq.add(p)
	s.subs.Apply(func(topic []byte) {
		_ = sendSubscribeCmd(p, topic, true)
	})
	s.prefixes.Apply(func(prefix []byte) {
		_ = sendSubscribeCmd(p, prefix, true)
	})
}

func (s *Sub) XReadActivated(p *pipe.Pipe)  {}
func (s *Sub) XWriteActivated(p *pipe.Pipe) {}
func (s *Sub) XHiccuped(p *pipe.Pipe)       {}

func (s *Sub) XPipeTerminated(p *pipe.Pipe) {
	s.fq.remove(p)
}

// Subscribe registers topic locally and, on its first occurrence,
// forwards a SUBSCRIBE command to every attached publisher.
func (s *Sub) Subscribe(topic []byte) error {
	if !s.subs.Add(topic) {
		return nil
	}
	return s.forward(topic, true)
}

// Unsubscribe removes topic locally and, once its refcount drops to zero,
// forwards a CANCEL command to every attached publisher.
func (s *Sub) Unsubscribe(topic []byte) error {
	if !s.subs.Rm(topic) {
		return nil
	}
	return s.forward(topic, false)
}

// PSubscribe registers a glob pattern. The pattern's literal prefix (the
// bytes before its first wildcard) is forwarded upstream as an ordinary
// SUBSCRIBE so the publisher sends a superset; the full pattern is then
// matched locally on receive.
func (s *Sub) PSubscribe(pattern []byte) error {
	first, err := s.globs.Add(pattern)
	if err != nil {
		return fmt.Errorf("socket: %w: %v", zerr.EInval, err)
	}
	if !first {
		return nil
	}
	prefix := glob.LiteralPrefix(pattern)
	if !s.prefixes.Add(prefix) {
		return nil
	}
	return s.forward(prefix, true)
}

// PUnsubscribe withdraws a previous PSubscribe call for pattern,
// cancelling the upstream prefix subscription once no remaining pattern
// needs it.
func (s *Sub) PUnsubscribe(pattern []byte) error {
	found, last := s.globs.Rm(pattern)
	if !found || !last {
		return nil
	}
	prefix := glob.LiteralPrefix(pattern)
	if !s.prefixes.Rm(prefix) {
		return nil
	}
	return s.forward(prefix, false)
}

// TopicsCount reports the number of distinct live subscriptions, literal
// and pattern combined.
func (s *Sub) TopicsCount() int {
	return s.subs.Count() + s.globs.Count()
}

func (s *Sub) forward(topic []byte, subscribe bool) error {
	for _, p := range s.fq.pipes {
		if err := sendSubscribeCmd(p, topic, subscribe); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sub) XSend(msg zmsg.Message) error {
	return zerr.EFsm
}

// XRecv fair-queues inbound data frames. With only literal subscriptions
// active the publisher has already filtered, so frames pass through; once
// any glob pattern is registered the superset the prefix subscription
// pulls in is re-filtered locally.
func (s *Sub) XRecv() (zmsg.Message, error) {
	for {
		m, _, err := s.fq.recv()
		if err != nil {
			return zmsg.Message{}, err
		}
		if m.IsCommand() {
			continue
		}
		if !s.globs.Empty() && !s.midMessage {
			data := m.Data()
			if !s.subs.Check(data) && !s.globs.Check(data) {
				// Filtering applies to the message's first frame; drain
				// any continuation frames so the next message starts at a
				// frame boundary.
				for m.More() {
					m, _, err = s.fq.recv()
					if err != nil {
						return zmsg.Message{}, err
					}
				}
				continue
			}
		}
		s.midMessage = m.More()
		return m, nil
	}
}

func (s *Sub) XPendingOut() int { return s.fq.pendingOut() }

func (s *Sub) XHasIn() bool  { return s.fq.hasIn() }
func (s *Sub) XHasOut() bool { return false }

// sendSubscribeCmd writes a v3.1 SUBSCRIBE/CANCEL command frame
// to the pipe leading to a publisher, tagging it FlagCommand so the
// engine's writeLoop encodes it as a ZMTP command frame rather than a
// data frame.
func sendSubscribeCmd(p *pipe.Pipe, topic []byte, subscribe bool) error {
	var body []byte
	if subscribe {
		body = wire.EncodeSubscribe(topic)
	} else {
		body = wire.EncodeCancel(topic)
	}
	msg, err := zmsg.InitBuffer(body)
	if err != nil {
		return err
	}
	msg.SetFlags(zmsg.FlagCommand)
	ok, err := p.Write(msg)
	if err != nil {
		return err
	}
	if !ok {
		return zerr.EAgain
	}
	return p.Flush()
}
