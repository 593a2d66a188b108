// Package zmsg implements the ServerLink message container: a small
// discriminated value type supporting inline (VSM), shared
// heap-allocated (LMSG), and externally owned zero-copy (ZCMSG)
// payloads, plus the DELIMITER marker used by pipe teardown.
//
// The C-style union-of-fixed-size-record layout is re-expressed here as
// a tagged struct: VSM inline storage is a cache-locality optimization,
// not a correctness requirement, so the variants are kept but VSM
// payloads live in an ordinary (small) byte slice.
package zmsg

import (
	"errors"
	"fmt"
)

// maxVSMSize bounds the "very small message" fast path before a type is
// merely informational in this rewrite (no inline-storage layout to
// enforce), but call sites use it to decide whether init_size would have
// allocated in the original.
const maxVSMSize = 29

// Kind discriminates the message variant.
type Kind uint8

const (
	// KindEmpty marks an uninitialized or closed message.
	KindEmpty Kind = iota
	KindVSM
	KindLMSG
	KindZCMSG
	KindDelimiter
	KindCMSG
)

func (k Kind) String() string {
	switch k {
	case KindVSM:
		return "VSM"
	case KindLMSG:
		return "LMSG"
	case KindZCMSG:
		return "ZCMSG"
	case KindDelimiter:
		return "DELIMITER"
	case KindCMSG:
		return "CMSG"
	default:
		return "EMPTY"
	}
}

// Flag bits, carried on every variant.
type Flag uint16

const (
	FlagMore Flag = 1 << iota
	FlagCommand
	FlagRoutingID
	FlagShared
	FlagCredential

	// command subtype bits, valid only when FlagCommand is set.
	flagCmdShift = 8
	cmdMask      = 0xF << flagCmdShift
)

// Command subtypes, packed into the high nibble of Flag when FlagCommand is set.
const (
	CmdNone Flag = iota << flagCmdShift
	CmdPing
	CmdPong
	CmdSubscribe
	CmdCancel
	CmdClose
)

// CmdType extracts the command subtype from the flag bits.
func (f Flag) CmdType() Flag { return f & cmdMask }

// FreeFunc releases an externally- or heap-owned buffer. hint is an opaque
// value supplied at init time (e.g. an allocator/arena reference).
type FreeFunc func(data []byte, hint any)

// content is the heap/zero-copy payload shared by LMSG and ZCMSG messages.
// Multiple Message values may reference one content block; refcnt tracks
// how many.
type content struct {
	data    []byte
	freeFn  FreeFunc
	hint    any
	refcnt  int32
	zeroCpy bool // true for ZCMSG: data is externally owned
}

// Message is the polymorphic container that flows through pipes, engines
// and sockets. The zero value is a valid empty (KindEmpty) message.
type Message struct {
	kind      Kind
	flags     Flag
	routingID uint32
	group     string
	metadata  *Metadata

	vsm []byte
	c   *content
}

// Metadata is an optional, shared, read-only property dictionary
// attached to a received message: peer identity, User-Id, and any
// vendor-specific handshake property.
type Metadata struct {
	props map[string]string
}

// NewMetadata builds a Metadata snapshot from a property map.
func NewMetadata(props map[string]string) *Metadata {
	cp := make(map[string]string, len(props))
	for k, v := range props {
		cp[k] = v
	}
	return &Metadata{props: cp}
}

// Get returns a named property and whether it was present. A lookup of
// the deprecated "Identity" name is answered from the canonical
// "Routing-Id" property when no "Identity" entry exists.
func (m *Metadata) Get(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.props[name]
	if !ok && name == "Identity" {
		v, ok = m.props["Routing-Id"]
	}
	return v, ok
}

var (
	// ErrClosed is returned when an operation targets a message whose type
	// discriminant is out of range (use-after-close), mirroring check().
	ErrClosed = errors.New("zmsg: use of closed message")
	// ErrNotRefCounted is returned by AddRefs/RmRefs on VSM/DELIMITER/CMSG.
	ErrNotRefCounted = errors.New("zmsg: message variant has no refcount")
)

// Init produces an empty VSM message of size 0.
func Init() Message {
	return Message{kind: KindVSM, vsm: nil}
}

// InitSize produces a VSM message when n <= maxVSMSize, otherwise a
// newly-allocated LMSG with refcount 1. The returned message owns its
// buffer and may be mutated via Data() up to n bytes.
func InitSize(n int) (Message, error) {
	if n < 0 {
		return Message{}, fmt.Errorf("zmsg: init_size: %w: negative size", ErrInvalidSize)
	}
	if n <= maxVSMSize {
		return Message{kind: KindVSM, vsm: make([]byte, n)}, nil
	}
	return Message{
		kind: KindLMSG,
		c:    &content{data: make([]byte, n), refcnt: 1},
	}, nil
}

// ErrInvalidSize is returned for negative sizes or oversized groups.
var ErrInvalidSize = errors.New("zmsg: invalid size")

// InitBuffer copies a borrowed buffer into owned storage (VSM or LMSG
// depending on size).
func InitBuffer(p []byte) (Message, error) {
	m, err := InitSize(len(p))
	if err != nil {
		return Message{}, err
	}
	copy(m.dataSlice(), p)
	return m, nil
}

// InitData takes ownership of an externally-owned buffer p, producing an
// LMSG that invokes freeFn(p, hint) when its refcount reaches zero.
func InitData(p []byte, freeFn FreeFunc, hint any) Message {
	return Message{
		kind: KindLMSG,
		c:    &content{data: p, freeFn: freeFn, hint: hint, refcnt: 1},
	}
}

// InitExternalStorage produces a ZCMSG referencing a pre-allocated content
// slot; the caller (typically a zero-copy receive-buffer arena) manages the
// underlying block's lifetime via the shared refcount.
func InitExternalStorage(p []byte, freeFn FreeFunc, hint any) Message {
	return Message{
		kind: KindZCMSG,
		c:    &content{data: p, freeFn: freeFn, hint: hint, refcnt: 1, zeroCpy: true},
	}
}

// InitDelimiter produces a zero-payload DELIMITER message used by pipe
// teardown.
func InitDelimiter() Message {
	return Message{kind: KindDelimiter}
}

// InitSubscribe produces a COMMAND message carrying the SUBSCRIBE subtype
// and the topic bytes as payload.
func InitSubscribe(topic []byte) (Message, error) {
	m, err := InitBuffer(topic)
	if err != nil {
		return Message{}, err
	}
	m.flags = FlagCommand | CmdSubscribe
	return m, nil
}

// InitCancel produces a COMMAND message carrying the CANCEL subtype.
func InitCancel(topic []byte) (Message, error) {
	m, err := InitBuffer(topic)
	if err != nil {
		return Message{}, err
	}
	m.flags = FlagCommand | CmdCancel
	return m, nil
}

// Check reports whether the message's type discriminant is within the
// valid range, i.e. it has not been closed/moved-out.
func (m *Message) Check() bool {
	return m.kind != KindEmpty
}

// Close drops one refcount on heap/zero-copy content, invoking FreeFunc on
// the final release, and resets the slot to KindEmpty. It is a no-op on an
// already-closed message.
func (m *Message) Close() error {
	if m.kind == KindEmpty {
		return nil
	}
	if m.c != nil {
		if err := m.c.release(); err != nil {
			return err
		}
	}
	*m = Message{}
	return nil
}

func (c *content) release() error {
	c.refcnt--
	if c.refcnt < 0 {
		return errors.New("zmsg: refcount underflow")
	}
	if c.refcnt == 0 && c.freeFn != nil {
		c.freeFn(c.data, c.hint)
	}
	return nil
}

// Copy increments src's refcount (for LMSG/ZCMSG) and makes *m refer to the
// same content; for VSM/DELIMITER it performs a value copy.
func (m *Message) Copy(src *Message) error {
	if !src.Check() {
		return ErrClosed
	}
	*m = *src
	if m.c != nil {
		m.c.refcnt++
		m.flags |= FlagShared
	}
	return nil
}

// Move transfers ownership from src to m; src becomes an empty message.
func (m *Message) Move(src *Message) error {
	if !src.Check() {
		return ErrClosed
	}
	*m = *src
	*src = Message{}
	return nil
}

// AddRefs adds n to the refcount of an LMSG/ZCMSG message.
func (m *Message) AddRefs(n int32) error {
	if m.c == nil {
		return ErrNotRefCounted
	}
	m.c.refcnt += n
	return nil
}

// RmRefs subtracts n from the refcount; if it transitions to zero the
// message self-closes and RmRefs returns false (no error) to signal the
// caller that the content is gone.
func (m *Message) RmRefs(n int32) (bool, error) {
	if m.c == nil {
		return false, ErrNotRefCounted
	}
	m.c.refcnt -= n
	if m.c.refcnt <= 0 {
		if m.c.freeFn != nil {
			m.c.freeFn(m.c.data, m.c.hint)
		}
		*m = Message{}
		return false, nil
	}
	return true, nil
}

// Kind returns the message's discriminant.
func (m *Message) Kind() Kind { return m.kind }

// Size returns the payload length in bytes.
func (m *Message) Size() int {
	switch m.kind {
	case KindVSM:
		return len(m.vsm)
	case KindLMSG, KindZCMSG, KindCMSG:
		if m.c == nil {
			return 0
		}
		return len(m.c.data)
	default:
		return 0
	}
}

// Data returns the payload bytes. The returned slice must not be retained
// past the message's lifetime for ZCMSG variants.
func (m *Message) Data() []byte {
	return m.dataSlice()
}

func (m *Message) dataSlice() []byte {
	switch m.kind {
	case KindVSM:
		return m.vsm
	case KindLMSG, KindZCMSG, KindCMSG:
		if m.c == nil {
			return nil
		}
		return m.c.data
	default:
		return nil
	}
}

// Flags returns the current flag bits.
func (m *Message) Flags() Flag { return m.flags }

// SetFlags ORs f into the flag bits.
func (m *Message) SetFlags(f Flag) { m.flags |= f }

// ResetFlags clears f from the flag bits.
func (m *Message) ResetFlags(f Flag) { m.flags &^= f }

// More reports whether the MORE flag is set.
func (m *Message) More() bool { return m.flags&FlagMore != 0 }

// IsCommand reports whether the COMMAND flag is set.
func (m *Message) IsCommand() bool { return m.flags&FlagCommand != 0 }

// IsDelimiter reports whether this is a DELIMITER message.
func (m *Message) IsDelimiter() bool { return m.kind == KindDelimiter }

// SetRoutingID sets the 32-bit routing identifier carried alongside the
// message (used by ROUTER to tag the originating pipe).
func (m *Message) SetRoutingID(id uint32) { m.routingID = id }

// RoutingID returns the routing identifier.
func (m *Message) RoutingID() uint32 { return m.routingID }

// Group returns the PUB/SUB group string (empty if unset).
func (m *Message) Group() string { return m.group }

// SetGroup sets the group string; groups longer than 255 bytes are
// rejected with ErrInvalidSize (EINVAL in the taxonomy).
func (m *Message) SetGroup(g string) error {
	if len(g) > 255 {
		return fmt.Errorf("zmsg: set_group: %w: length %d exceeds 255", ErrInvalidSize, len(g))
	}
	m.group = g
	return nil
}

// SetMetadata attaches a shared metadata dictionary (never copied).
func (m *Message) SetMetadata(md *Metadata) { m.metadata = md }

// Metadata returns the attached metadata dictionary, if any.
func (m *Message) Metadata() *Metadata { return m.metadata }

// Shrink truncates a VSM/LMSG/ZCMSG payload to n bytes in place. n must not
// exceed the current size.
func (m *Message) Shrink(n int) error {
	cur := m.Size()
	if n < 0 || n > cur {
		return fmt.Errorf("zmsg: shrink: %w", ErrInvalidSize)
	}
	switch m.kind {
	case KindVSM:
		m.vsm = m.vsm[:n]
	case KindLMSG, KindZCMSG, KindCMSG:
		if m.c != nil {
			m.c.data = m.c.data[:n]
		}
	}
	return nil
}
