// Package wire implements the ZMTP greeting exchange and v2/v3.1
// framing codec: the bytes that cross the socket, independent of any
// particular transport or socket pattern.
//
// The greeting is handled with explicit offsets rather than a packed
// struct so every field of the 64-byte layout has a named constant.
package wire

import (
	"fmt"
	"io"

	"github.com/infodancer/serverlink/internal/zerr"
)

const (
	GreetingSize = 64

	sigByte0      = 0xFF
	sigByte9      = 0x7F
	mechanismLen  = 20
	revisionMajor = 3
)

// Greeting is the 64-byte v3 ZMTP greeting.
type Greeting struct {
	Revision  uint8
	Minor     uint8
	Mechanism string // NUL-padded to mechanismLen on the wire, trimmed here
	AsServer  bool
}

// NullGreeting builds a greeting advertising the NULL mechanism, the only
// in-scope security mechanism.
func NullGreeting(asServer bool) Greeting {
	return Greeting{Revision: revisionMajor, Minor: 1, Mechanism: "NULL", AsServer: asServer}
}

// Encode renders g as the 64-byte wire representation.
func (g Greeting) Encode() [GreetingSize]byte {
	var buf [GreetingSize]byte
	buf[0] = sigByte0
	// offset 1: 8-byte big-endian legacy length field, fixed at 1.
	buf[8] = 1
	buf[9] = sigByte9
	buf[10] = g.Revision
	buf[11] = g.Minor
	copy(buf[12:12+mechanismLen], g.Mechanism)
	if g.AsServer {
		buf[32] = 1
	}
	return buf
}

// WriteTo writes the 64-byte greeting to w.
func (g Greeting) WriteTo(w io.Writer) error {
	buf := g.Encode()
	_, err := w.Write(buf[:])
	return err
}

// ReadGreeting reads and validates a peer's greeting from r
// incrementally: signature byte, then the versioned-peer bit, then the
// full 64 bytes.
func ReadGreeting(r io.Reader) (Greeting, error) {
	var buf [GreetingSize]byte

	if _, err := io.ReadFull(r, buf[:10]); err != nil {
		return Greeting{}, fmt.Errorf("wire: read greeting signature: %w", err)
	}
	if buf[0] != sigByte0 {
		return Greeting{}, fmt.Errorf("wire: %w: unversioned peer (bad signature byte)", zerr.EProto)
	}
	if buf[9]&0x01 == 0 {
		return Greeting{}, fmt.Errorf("wire: %w: unversioned peer (signature low bit clear)", zerr.EProto)
	}

	if _, err := io.ReadFull(r, buf[10:]); err != nil {
		return Greeting{}, fmt.Errorf("wire: read greeting body: %w", err)
	}

	rev := buf[10]
	minor := buf[11]
	if rev == 1 || rev == 2 {
		return Greeting{}, fmt.Errorf("wire: %w: protocol revision %d not supported", zerr.ENoCompatProto, rev)
	}
	if rev != revisionMajor {
		return Greeting{}, fmt.Errorf("wire: %w: unknown protocol revision %d", zerr.ENoCompatProto, rev)
	}

	mech := trimNUL(buf[12 : 12+mechanismLen])
	asServer := buf[32] != 0

	return Greeting{Revision: rev, Minor: minor, Mechanism: mech, AsServer: asServer}, nil
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
