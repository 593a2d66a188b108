package wire

import (
	"bytes"
	"testing"
)

func TestGreetingRoundTrip(t *testing.T) {
	g := NullGreeting(true)
	var buf bytes.Buffer
	if err := g.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if buf.Len() != GreetingSize {
		t.Fatalf("encoded greeting is %d bytes, want %d", buf.Len(), GreetingSize)
	}

	got, err := ReadGreeting(&buf)
	if err != nil {
		t.Fatalf("ReadGreeting: %v", err)
	}
	if got.Revision != 3 || got.Minor != 1 || got.Mechanism != "NULL" || !got.AsServer {
		t.Errorf("ReadGreeting = %+v, want {3 1 NULL true}", got)
	}
}

func TestReadGreetingBadSignature(t *testing.T) {
	buf := bytes.Repeat([]byte{0x00}, GreetingSize)
	if _, err := ReadGreeting(bytes.NewReader(buf)); err == nil {
		t.Error("expected error for bad signature byte")
	}
}

func TestReadGreetingUnversionedPeer(t *testing.T) {
	buf := make([]byte, GreetingSize)
	buf[0] = sigByte0
	buf[9] = 0x00 // low bit clear: unversioned
	if _, err := ReadGreeting(bytes.NewReader(buf)); err == nil {
		t.Error("expected error for unversioned peer")
	}
}

func TestReadGreetingRejectsOldRevisions(t *testing.T) {
	for _, rev := range []uint8{1, 2} {
		g := NullGreeting(false)
		g.Revision = rev
		buf := g.Encode()
		if _, err := ReadGreeting(bytes.NewReader(buf[:])); err == nil {
			t.Errorf("expected error for revision %d", rev)
		}
	}
}
