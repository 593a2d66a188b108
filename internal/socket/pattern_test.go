package socket

import (
	"testing"

	"github.com/infodancer/serverlink/internal/mailbox"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/wire"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// newTestPipe builds a pipe pair and returns the endpoint a Pattern
// would own (local) and the endpoint a test uses to stand in for the
// wire-facing engine (remote).
func newTestPipe(t *testing.T, hwm int) (local, remote *pipe.Pipe) {
	t.Helper()
	boxA, err := mailbox.New()
	if err != nil {
		t.Fatalf("mailbox.New: %v", err)
	}
	boxB, err := mailbox.New()
	if err != nil {
		t.Fatalf("mailbox.New: %v", err)
	}
	a, b := pipe.NewPair(hwm, boxA, boxB)
	return a, b
}

func mustMsg(t *testing.T, data []byte) zmsg.Message {
	t.Helper()
	m, err := zmsg.InitBuffer(data)
	if err != nil {
		t.Fatalf("InitBuffer: %v", err)
	}
	return m
}

func TestPairSendRecv(t *testing.T) {
	local, remote := newTestPipe(t, 0)
	p := NewPair()
	p.XAttachPipe(local, nil)

	if err := p.XSend(mustMsg(t, []byte("hello"))); err != nil {
		t.Fatalf("XSend: %v", err)
	}
	m, ok, err := remote.Read()
	if err != nil || !ok {
		t.Fatalf("remote.Read: ok=%v err=%v", ok, err)
	}
	if string(m.Data()) != "hello" {
		t.Errorf("got %q, want %q", m.Data(), "hello")
	}

	ok, err = remote.Write(mustMsg(t, []byte("world")))
	if err != nil || !ok {
		t.Fatalf("remote.Write: ok=%v err=%v", ok, err)
	}
	_ = remote.Flush()
	got, err := p.XRecv()
	if err != nil {
		t.Fatalf("XRecv: %v", err)
	}
	if string(got.Data()) != "world" {
		t.Errorf("got %q, want %q", got.Data(), "world")
	}
}

func TestPairNoPeerIsEAgain(t *testing.T) {
	p := NewPair()
	if _, err := p.XRecv(); !zerr.Is(err, zerr.EAgain) {
		t.Errorf("XRecv with no peer: got %v, want EAgain", err)
	}
	if err := p.XSend(mustMsg(t, []byte("x"))); !zerr.Is(err, zerr.EAgain) {
		t.Errorf("XSend with no peer: got %v, want EAgain", err)
	}
}

func TestDealerRoundRobin(t *testing.T) {
	d := NewDealer()
	local1, remote1 := newTestPipe(t, 0)
	local2, remote2 := newTestPipe(t, 0)
	d.XAttachPipe(local1, nil)
	d.XAttachPipe(local2, nil)

	if err := d.XSend(mustMsg(t, []byte("a"))); err != nil {
		t.Fatalf("XSend 1: %v", err)
	}
	if err := d.XSend(mustMsg(t, []byte("b"))); err != nil {
		t.Fatalf("XSend 2: %v", err)
	}

	m1, ok, err := remote1.Read()
	if err != nil || !ok {
		t.Fatalf("remote1.Read: ok=%v err=%v", ok, err)
	}
	m2, ok, err := remote2.Read()
	if err != nil || !ok {
		t.Fatalf("remote2.Read: ok=%v err=%v", ok, err)
	}
	if string(m1.Data()) != "a" || string(m2.Data()) != "b" {
		t.Errorf("round-robin mismatch: remote1=%q remote2=%q", m1.Data(), m2.Data())
	}
}

// TestRouterEnvelope: a ROUTER learns a peer's
// routing id at attach time, prefixes inbound frames with it, and routes
// outbound frames addressed by that id to the right peer.
func TestRouterEnvelope(t *testing.T) {
	r := NewRouter(false, false)
	localA, remoteA := newTestPipe(t, 0)
	localB, remoteB := newTestPipe(t, 0)
	r.XAttachPipe(localA, []byte("peer-a"))
	r.XAttachPipe(localB, []byte("peer-b"))

	ok, err := remoteA.Write(mustMsg(t, []byte("ping")))
	if err != nil || !ok {
		t.Fatalf("remoteA.Write: ok=%v err=%v", ok, err)
	}
	_ = remoteA.Flush()

	idFrame, err := r.XRecv()
	if err != nil {
		t.Fatalf("XRecv id frame: %v", err)
	}
	if string(idFrame.Data()) != "peer-a" || !idFrame.More() {
		t.Errorf("id frame = %q more=%v, want %q more=true", idFrame.Data(), idFrame.More(), "peer-a")
	}
	body, err := r.XRecv()
	if err != nil {
		t.Fatalf("XRecv body frame: %v", err)
	}
	if string(body.Data()) != "ping" {
		t.Errorf("body = %q, want %q", body.Data(), "ping")
	}

	idMsg := mustMsg(t, []byte("peer-b"))
	idMsg.SetFlags(zmsg.FlagMore)
	if err := r.XSend(idMsg); err != nil {
		t.Fatalf("XSend id: %v", err)
	}
	if err := r.XSend(mustMsg(t, []byte("pong"))); err != nil {
		t.Fatalf("XSend body: %v", err)
	}

	m, ok, err := remoteB.Read()
	if err != nil || !ok {
		t.Fatalf("remoteB.Read: ok=%v err=%v", ok, err)
	}
	if string(m.Data()) != "pong" {
		t.Errorf("remoteB got %q, want %q", m.Data(), "pong")
	}
	if _, ok, _ := remoteA.Read(); ok {
		t.Error("remoteA unexpectedly received a frame addressed to peer-b")
	}
}

// ROUTER_MANDATORY must fail a send addressed to an unknown peer with
// EHostUnreach instead of silently dropping it.
func TestRouterMandatoryUnroutable(t *testing.T) {
	r := NewRouter(true, false)
	local, _ := newTestPipe(t, 0)
	r.XAttachPipe(local, []byte("known"))

	idMsg := mustMsg(t, []byte("unknown-peer"))
	idMsg.SetFlags(zmsg.FlagMore)
	if err := r.XSend(idMsg); !zerr.Is(err, zerr.EHostUnreach) {
		t.Errorf("XSend to unknown peer = %v, want EHostUnreach", err)
	}
}

func TestRouterNonMandatoryDropsUnroutable(t *testing.T) {
	r := NewRouter(false, false)
	local, _ := newTestPipe(t, 0)
	r.XAttachPipe(local, []byte("known"))

	idMsg := mustMsg(t, []byte("unknown-peer"))
	idMsg.SetFlags(zmsg.FlagMore)
	if err := r.XSend(idMsg); err != nil {
		t.Fatalf("XSend to unknown peer without mandatory: %v", err)
	}
	if err := r.XSend(mustMsg(t, []byte("body"))); err != nil {
		t.Fatalf("XSend body (sunk): %v", err)
	}
}

func TestPubSubFiltering(t *testing.T) {
	pub := NewPub()
	localSubA, remoteSubA := newTestPipe(t, 0)
	localSubB, remoteSubB := newTestPipe(t, 0)
	pub.XAttachPipe(localSubA, nil)
	pub.XAttachPipe(localSubB, nil)

	// Subscriber A subscribes to "weather", B does not subscribe at all.
	sub := mustMsg(t, wire.EncodeSubscribe([]byte("weather")))
	sub.SetFlags(zmsg.FlagCommand)
	ok, err := remoteSubA.Write(sub)
	if err != nil || !ok {
		t.Fatalf("remoteSubA.Write subscribe: ok=%v err=%v", ok, err)
	}
	_ = remoteSubA.Flush()
	pub.XReadActivated(localSubA)

	if err := pub.XSend(mustMsg(t, []byte("weather: sunny"))); err != nil {
		t.Fatalf("XSend: %v", err)
	}

	m, ok, err := remoteSubA.Read()
	if err != nil || !ok {
		t.Fatalf("remoteSubA.Read: ok=%v err=%v", ok, err)
	}
	if string(m.Data()) != "weather: sunny" {
		t.Errorf("subA got %q", m.Data())
	}
	if _, ok, _ := remoteSubB.Read(); ok {
		t.Error("subB unexpectedly received a message it never subscribed to")
	}
}

// TestXPubNotifyFirstSubscriberOnly checks the `[0x01,'A']`/`[0x00,'A']`
// notification byte format.
func TestXPubNotifyFirstSubscriberOnly(t *testing.T) {
	xp := NewXPub(XPubConfig{})
	local1, remote1 := newTestPipe(t, 0)
	local2, remote2 := newTestPipe(t, 0)
	xp.XAttachPipe(local1, nil)
	xp.XAttachPipe(local2, nil)

	sub := mustMsg(t, wire.EncodeSubscribe([]byte("A")))
	sub.SetFlags(zmsg.FlagCommand)
	ok, err := remote1.Write(sub)
	if err != nil || !ok {
		t.Fatalf("remote1.Write: ok=%v err=%v", ok, err)
	}
	_ = remote1.Flush()
	xp.XReadActivated(local1)

	notif, err := xp.XRecv()
	if err != nil {
		t.Fatalf("XRecv notification: %v", err)
	}
	if len(notif.Data()) != 2 || notif.Data()[0] != 0x01 || notif.Data()[1] != 'A' {
		t.Errorf("notification = %v, want [0x01 'A']", notif.Data())
	}

	// A second, different peer subscribing to the same topic must NOT
	// re-notify (verbose is off and the topic already has a subscriber).
	sub2 := mustMsg(t, wire.EncodeSubscribe([]byte("A")))
	sub2.SetFlags(zmsg.FlagCommand)
	ok, err = remote2.Write(sub2)
	if err != nil || !ok {
		t.Fatalf("remote2.Write: ok=%v err=%v", ok, err)
	}
	_ = remote2.Flush()
	xp.XReadActivated(local2)

	if _, err := xp.XRecv(); !zerr.Is(err, zerr.EAgain) {
		t.Errorf("second subscribe notified again: err=%v, want EAgain", err)
	}

	cancel := mustMsg(t, wire.EncodeCancel([]byte("A")))
	cancel.SetFlags(zmsg.FlagCommand)
	ok, err = remote1.Write(cancel)
	if err != nil || !ok {
		t.Fatalf("remote1.Write cancel: ok=%v err=%v", ok, err)
	}
	_ = remote1.Flush()
	xp.XReadActivated(local1)

	// One subscriber remains (remote2), so cancelling remote1's
	// subscription must not yet produce an unsubscribe notification.
	if _, err := xp.XRecv(); !zerr.Is(err, zerr.EAgain) {
		t.Errorf("premature cancel notification: err=%v, want EAgain", err)
	}
}

func TestSubReplaysSubscriptionsOnAttach(t *testing.T) {
	s := NewSub()
	if err := s.Subscribe([]byte("topicA")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	local, remote := newTestPipe(t, 0)
	s.XAttachPipe(local, nil)

	m, ok, err := remote.Read()
	if err != nil || !ok {
		t.Fatalf("remote.Read: ok=%v err=%v", ok, err)
	}
	if !m.IsCommand() {
		t.Fatal("replayed subscription frame must be a command frame")
	}
	name, topic, err := wire.ParseCommandName(m.Data())
	if err != nil {
		t.Fatalf("ParseCommandName: %v", err)
	}
	if name != wire.CmdNameSubscribe || string(topic) != "topicA" {
		t.Errorf("replayed command = %s %q, want SUBSCRIBE \"topicA\"", name, topic)
	}
}

func TestXSubControlByteSend(t *testing.T) {
	xs := NewXSub()
	local, remote := newTestPipe(t, 0)
	xs.XAttachPipe(local, nil)

	ctrl := mustMsg(t, append([]byte{0x01}, []byte("topicB")...))
	if err := xs.XSend(ctrl); err != nil {
		t.Fatalf("XSend control frame: %v", err)
	}

	m, ok, err := remote.Read()
	if err != nil || !ok {
		t.Fatalf("remote.Read: ok=%v err=%v", ok, err)
	}
	name, topic, err := wire.ParseCommandName(m.Data())
	if err != nil {
		t.Fatalf("ParseCommandName: %v", err)
	}
	if name != wire.CmdNameSubscribe || string(topic) != "topicB" {
		t.Errorf("forwarded command = %s %q, want SUBSCRIBE \"topicB\"", name, topic)
	}
}

// TestSubPSubscribeForwardsLiteralPrefix: a glob subscription expresses
// its literal prefix upstream as an ordinary SUBSCRIBE, since ZMTP has
// no pattern-subscription command.
func TestSubPSubscribeForwardsLiteralPrefix(t *testing.T) {
	s := NewSub()
	local, remote := newTestPipe(t, 0)
	s.XAttachPipe(local, nil)

	if err := s.PSubscribe([]byte("news.*")); err != nil {
		t.Fatalf("PSubscribe: %v", err)
	}

	m, ok, err := remote.Read()
	if err != nil || !ok {
		t.Fatalf("remote.Read: ok=%v err=%v", ok, err)
	}
	name, topic, err := wire.ParseCommandName(m.Data())
	if err != nil {
		t.Fatalf("ParseCommandName: %v", err)
	}
	if name != wire.CmdNameSubscribe || string(topic) != "news." {
		t.Errorf("forwarded command = %s %q, want SUBSCRIBE \"news.\"", name, topic)
	}

	if got := s.TopicsCount(); got != 1 {
		t.Errorf("TopicsCount() = %d, want 1", got)
	}
}

// TestSubGlobFiltersLocally: with a glob pattern active, frames the
// upstream prefix subscription lets through are re-filtered against the
// full pattern before delivery.
func TestSubGlobFiltersLocally(t *testing.T) {
	s := NewSub()
	local, remote := newTestPipe(t, 0)
	s.XAttachPipe(local, nil)

	if err := s.PSubscribe([]byte("news.*.critical")); err != nil {
		t.Fatalf("PSubscribe: %v", err)
	}
	// Drain the forwarded prefix SUBSCRIBE so the pipe only carries data.
	if _, ok, err := remote.Read(); err != nil || !ok {
		t.Fatalf("drain forwarded subscribe: ok=%v err=%v", ok, err)
	}

	for _, frame := range []string{"news.db.critical", "news.db.info"} {
		ok, err := remote.Write(mustMsg(t, []byte(frame)))
		if err != nil || !ok {
			t.Fatalf("remote.Write(%q): ok=%v err=%v", frame, ok, err)
		}
	}
	_ = remote.Flush()

	m, err := s.XRecv()
	if err != nil {
		t.Fatalf("XRecv: %v", err)
	}
	if string(m.Data()) != "news.db.critical" {
		t.Errorf("XRecv = %q, want %q", m.Data(), "news.db.critical")
	}
	if _, err := s.XRecv(); !zerr.Is(err, zerr.EAgain) {
		t.Errorf("XRecv after non-matching frame = %v, want EAgain", err)
	}
}

// TestSubPUnsubscribeCancelsPrefixOnLastPattern: the upstream CANCEL for
// a shared literal prefix fires only when the last pattern needing it is
// withdrawn.
func TestSubPUnsubscribeCancelsPrefixOnLastPattern(t *testing.T) {
	s := NewSub()
	local, remote := newTestPipe(t, 0)
	s.XAttachPipe(local, nil)

	if err := s.PSubscribe([]byte("log.*")); err != nil {
		t.Fatalf("PSubscribe 1: %v", err)
	}
	if err := s.PSubscribe([]byte("log.?")); err != nil {
		t.Fatalf("PSubscribe 2: %v", err)
	}
	// One forwarded SUBSCRIBE for the shared "log." prefix.
	if _, ok, err := remote.Read(); err != nil || !ok {
		t.Fatalf("drain forwarded subscribe: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := remote.Read(); ok {
		t.Fatal("second pattern with the same prefix forwarded a duplicate SUBSCRIBE")
	}

	if err := s.PUnsubscribe([]byte("log.*")); err != nil {
		t.Fatalf("PUnsubscribe 1: %v", err)
	}
	if _, ok, _ := remote.Read(); ok {
		t.Fatal("CANCEL forwarded while another pattern still needs the prefix")
	}

	if err := s.PUnsubscribe([]byte("log.?")); err != nil {
		t.Fatalf("PUnsubscribe 2: %v", err)
	}
	m, ok, err := remote.Read()
	if err != nil || !ok {
		t.Fatalf("remote.Read cancel: ok=%v err=%v", ok, err)
	}
	name, topic, err := wire.ParseCommandName(m.Data())
	if err != nil {
		t.Fatalf("ParseCommandName: %v", err)
	}
	if name != wire.CmdNameCancel || string(topic) != "log." {
		t.Errorf("forwarded command = %s %q, want CANCEL \"log.\"", name, topic)
	}
}

// TestXPubVerboserNotifiesDuplicateCancel: with Verboser set, a CANCEL
// that does not change the aggregate subscription state is still
// surfaced.
func TestXPubVerboserNotifiesDuplicateCancel(t *testing.T) {
	xp := NewXPub(XPubConfig{Verbose: true, Verboser: true})
	local1, remote1 := newTestPipe(t, 0)
	local2, remote2 := newTestPipe(t, 0)
	xp.XAttachPipe(local1, nil)
	xp.XAttachPipe(local2, nil)

	for _, remote := range []*pipe.Pipe{remote1, remote2} {
		sub := mustMsg(t, wire.EncodeSubscribe([]byte("A")))
		sub.SetFlags(zmsg.FlagCommand)
		if ok, err := remote.Write(sub); err != nil || !ok {
			t.Fatalf("Write subscribe: ok=%v err=%v", ok, err)
		}
		_ = remote.Flush()
	}
	xp.XReadActivated(local1)
	xp.XReadActivated(local2)

	// Verbose: both subscribes notified, not just the first.
	for i := 0; i < 2; i++ {
		if _, err := xp.XRecv(); err != nil {
			t.Fatalf("XRecv subscribe notification %d: %v", i, err)
		}
	}

	cancel := mustMsg(t, wire.EncodeCancel([]byte("A")))
	cancel.SetFlags(zmsg.FlagCommand)
	if ok, err := remote1.Write(cancel); err != nil || !ok {
		t.Fatalf("Write cancel: ok=%v err=%v", ok, err)
	}
	_ = remote1.Flush()
	xp.XReadActivated(local1)

	// remote2 still holds the topic, but Verboser surfaces the cancel.
	notif, err := xp.XRecv()
	if err != nil {
		t.Fatalf("XRecv cancel notification: %v", err)
	}
	if len(notif.Data()) != 2 || notif.Data()[0] != 0x00 || notif.Data()[1] != 'A' {
		t.Errorf("notification = %v, want [0x00 'A']", notif.Data())
	}
}

// TestXPubManualLeavesForwardingToApplication: in manual mode an inbound
// SUBSCRIBE is surfaced but does not register, so a publish is not
// forwarded until the application registers the topic itself.
func TestXPubManualLeavesForwardingToApplication(t *testing.T) {
	xp := NewXPub(XPubConfig{Manual: true})
	local, remote := newTestPipe(t, 0)
	xp.XAttachPipe(local, nil)

	sub := mustMsg(t, wire.EncodeSubscribe([]byte("A")))
	sub.SetFlags(zmsg.FlagCommand)
	if ok, err := remote.Write(sub); err != nil || !ok {
		t.Fatalf("Write subscribe: ok=%v err=%v", ok, err)
	}
	_ = remote.Flush()
	xp.XReadActivated(local)

	if _, err := xp.XRecv(); err != nil {
		t.Fatalf("XRecv notification: %v", err)
	}

	if err := xp.XSend(mustMsg(t, []byte("A1"))); err != nil {
		t.Fatalf("XSend before manual register: %v", err)
	}
	if _, ok, _ := remote.Read(); ok {
		t.Fatal("message forwarded before the application registered the topic")
	}

	if err := xp.Subscribe([]byte("A")); err != nil {
		t.Fatalf("manual Subscribe: %v", err)
	}
	if err := xp.XSend(mustMsg(t, []byte("A2"))); err != nil {
		t.Fatalf("XSend after manual register: %v", err)
	}
	m, ok, err := remote.Read()
	if err != nil || !ok {
		t.Fatalf("remote.Read: ok=%v err=%v", ok, err)
	}
	if string(m.Data()) != "A2" {
		t.Errorf("forwarded %q, want %q", m.Data(), "A2")
	}
}

// TestXPubNoDropReportsEAgainAtHWM: with NoDrop, a subscriber at its HWM
// turns the send into EAgain instead of a silent drop.
func TestXPubNoDropReportsEAgainAtHWM(t *testing.T) {
	xp := NewXPub(XPubConfig{NoDrop: true})
	local, remote := newTestPipe(t, 1)
	xp.XAttachPipe(local, nil)

	sub := mustMsg(t, wire.EncodeSubscribe([]byte("A")))
	sub.SetFlags(zmsg.FlagCommand)
	if ok, err := remote.Write(sub); err != nil || !ok {
		t.Fatalf("Write subscribe: ok=%v err=%v", ok, err)
	}
	_ = remote.Flush()
	xp.XReadActivated(local)
	// The inbound subscribe command has been drained; the outbound
	// direction is empty and bounded at one message.

	if err := xp.XSend(mustMsg(t, []byte("A1"))); err != nil {
		t.Fatalf("XSend within HWM: %v", err)
	}
	if err := xp.XSend(mustMsg(t, []byte("A2"))); !zerr.Is(err, zerr.EAgain) {
		t.Errorf("XSend at HWM with NoDrop = %v, want EAgain", err)
	}
}
