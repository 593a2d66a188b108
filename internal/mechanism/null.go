// Package mechanism implements the NULL authentication mechanism: the
// READY/ERROR handshake exchanged immediately after the greeting,
// socket-type compatibility checking, and the peer property metadata
// (Identity, User-Id, and any vendor-specific property) that flows into
// received-message Metadata.
package mechanism

import (
	"fmt"

	"github.com/infodancer/serverlink/internal/wire"
	"github.com/infodancer/serverlink/internal/zerr"
)

// SocketType enumerates the ZMTP socket pattern kinds this module
// implements.
type SocketType string

const (
	Pair   SocketType = "PAIR"
	Pub    SocketType = "PUB"
	Sub    SocketType = "SUB"
	Router SocketType = "ROUTER"
	Dealer SocketType = "DEALER"
	XPub   SocketType = "XPUB"
	XSub   SocketType = "XSUB"
	Req    SocketType = "REQ"
)

// IsCompatible reports whether a peer advertising SocketType peer may
// connect to a local socket of type t.
//
// REVIEW: ROUTER is kept permissive (any peer NULL itself would
// accept), matching libzmq's lenient behavior; deliberate, not an
// oversight.
func IsCompatible(t, peer SocketType) bool {
	switch t {
	case Pub, XPub:
		return peer == Sub || peer == XSub
	case Sub, XSub:
		return peer == Pub || peer == XPub
	case Router:
		return true
	case Dealer:
		return true
	case Pair:
		return peer == Pair
	default:
		return true
	}
}

// Status is the mechanism's handshake state.
type Status int

const (
	Handshaking Status = iota
	Ready
	Error
)

// Mechanism drives one connection's NULL handshake.
type Mechanism struct {
	selfType     SocketType
	identity     []byte
	recvRoutingID bool

	status Status

	PeerType     SocketType
	PeerIdentity []byte
	PeerUserID   string
	PeerProps    map[string]string
	ErrorReason  string
}

// New creates a Mechanism for a local socket of type selfType. identity is
// this socket's own routing identity, sent as the Identity property
// whenever it is non-empty; it may be nil for sockets that do not have
// one (PUB, SUB, ...). recvRoutingID controls whether the peer's Identity
// property is recorded as PeerIdentity.
func New(selfType SocketType, identity []byte, recvRoutingID bool) *Mechanism {
	return &Mechanism{
		selfType:      selfType,
		identity:      identity,
		recvRoutingID: recvRoutingID,
		status:        Handshaking,
		PeerProps:     make(map[string]string),
	}
}

// Status returns the current handshake status.
func (m *Mechanism) Status() Status { return m.status }

// NextHandshakeCommand produces this side's READY command body.
func (m *Mechanism) NextHandshakeCommand() []byte {
	props := []wire.Property{
		{Name: "Socket-Type", Value: []byte(m.selfType)},
	}
	if len(m.identity) > 0 {
		props = append(props, wire.Property{Name: "Identity", Value: m.identity})
	}
	return wire.EncodeReady(props)
}

// ProcessHandshakeCommand consumes a peer's command frame body. It
// recognizes READY and ERROR; any other command name is a protocol
// violation. On a successful READY it validates Socket-Type compatibility
// and records peer properties; on ERROR it transitions to Error and
// records the reason.
func (m *Mechanism) ProcessHandshakeCommand(body []byte) error {
	name, _, err := wire.ParseCommandName(body)
	if err != nil {
		m.status = Error
		return err
	}

	switch name {
	case wire.CmdNameReady:
		return m.processReady(body)
	case wire.CmdNameError:
		reason, err := wire.DecodeError(body)
		if err != nil {
			m.status = Error
			return err
		}
		m.status = Error
		m.ErrorReason = reason
		return fmt.Errorf("mechanism: %w: peer sent ERROR: %s", zerr.EProto, reason)
	default:
		m.status = Error
		return fmt.Errorf("mechanism: %w: unexpected command %q during handshake", zerr.EProto, name)
	}
}

func (m *Mechanism) processReady(body []byte) error {
	props, err := wire.DecodeReady(body)
	if err != nil {
		m.status = Error
		return err
	}

	for _, p := range props {
		switch p.Name {
		case "Socket-Type":
			m.PeerType = SocketType(p.Value)
		case "Identity":
			if m.recvRoutingID {
				m.PeerIdentity = append([]byte(nil), p.Value...)
			}
		case "User-Id":
			m.PeerUserID = string(p.Value)
		default:
			m.PeerProps[p.Name] = string(p.Value)
		}
	}

	if !IsCompatible(m.selfType, m.PeerType) {
		m.status = Error
		return fmt.Errorf("mechanism: %w: peer type %q not compatible with %q", zerr.EProto, m.PeerType, m.selfType)
	}

	m.status = Ready
	return nil
}

// Metadata returns the peer-supplied properties as a plain map suitable
// for attaching to received messages. The peer's routing id is recorded
// under the canonical "Routing-Id" key; zmsg.Metadata answers lookups of
// the deprecated "Identity" name from it.
func (m *Mechanism) Metadata() map[string]string {
	out := make(map[string]string, len(m.PeerProps)+2)
	for k, v := range m.PeerProps {
		out[k] = v
	}
	if len(m.PeerIdentity) > 0 {
		out["Routing-Id"] = string(m.PeerIdentity)
	}
	if m.PeerUserID != "" {
		out["User-Id"] = m.PeerUserID
	}
	return out
}
