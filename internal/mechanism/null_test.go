package mechanism

import (
	"testing"

	"github.com/infodancer/serverlink/internal/wire"
)

func TestHandshakeBetweenCompatiblePeers(t *testing.T) {
	pub := New(Pub, nil, false)
	sub := New(Sub, nil, false)

	if err := pub.ProcessHandshakeCommand(sub.NextHandshakeCommand()); err != nil {
		t.Fatalf("pub processing sub's READY: %v", err)
	}
	if pub.Status() != Ready {
		t.Errorf("pub status = %v, want Ready", pub.Status())
	}

	if err := sub.ProcessHandshakeCommand(pub.NextHandshakeCommand()); err != nil {
		t.Fatalf("sub processing pub's READY: %v", err)
	}
	if sub.Status() != Ready {
		t.Errorf("sub status = %v, want Ready", sub.Status())
	}
}

func TestHandshakeRejectsIncompatiblePeer(t *testing.T) {
	pub := New(Pub, nil, false)
	pair := New(Pair, nil, false)

	err := pub.ProcessHandshakeCommand(pair.NextHandshakeCommand())
	if err == nil {
		t.Fatal("expected error for PUB talking to PAIR")
	}
	if pub.Status() != Error {
		t.Errorf("status = %v, want Error", pub.Status())
	}
}

func TestRouterAcceptsAnyPeer(t *testing.T) {
	router := New(Router, []byte("r1"), true)
	dealer := New(Dealer, []byte("d1"), true)

	if err := router.ProcessHandshakeCommand(dealer.NextHandshakeCommand()); err != nil {
		t.Fatalf("router should accept dealer: %v", err)
	}
	if string(router.PeerIdentity) != "d1" {
		t.Errorf("PeerIdentity = %q, want d1", router.PeerIdentity)
	}
}

func TestProcessErrorCommandTransitionsToError(t *testing.T) {
	m := New(Pair, nil, false)
	errBody, err := wire.EncodeError("nope")
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	if err := m.ProcessHandshakeCommand(errBody); err == nil {
		t.Fatal("expected error from ERROR command")
	}
	if m.Status() != Error || m.ErrorReason != "nope" {
		t.Errorf("status=%v reason=%q", m.Status(), m.ErrorReason)
	}
}

func TestMetadataRecordsRoutingID(t *testing.T) {
	peer := New(Pair, []byte("peer-id"), false)
	self := New(Pair, nil, true)

	if err := self.ProcessHandshakeCommand(peer.NextHandshakeCommand()); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	md := self.Metadata()
	if md["Routing-Id"] != "peer-id" {
		t.Errorf("Metadata()[Routing-Id] = %q, want peer-id", md["Routing-Id"])
	}
}
