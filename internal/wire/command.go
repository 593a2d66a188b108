package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/infodancer/serverlink/internal/zerr"
)

// Command names, encoded as ZMTP pascal strings (1-byte length prefix).
const (
	CmdNameReady     = "READY"
	CmdNameError     = "ERROR"
	CmdNameSubscribe = "SUBSCRIBE"
	CmdNameCancel    = "CANCEL"
	CmdNamePing      = "PING"
	CmdNamePong      = "PONG"
)

// pascalString renders name as a 1-byte-length-prefixed ASCII string.
func pascalString(name string) []byte {
	out := make([]byte, 1+len(name))
	out[0] = byte(len(name))
	copy(out[1:], name)
	return out
}

// ParseCommandName splits a command frame body into its pascal-string name
// and the remaining payload.
func ParseCommandName(body []byte) (name string, rest []byte, err error) {
	if len(body) < 1 {
		return "", nil, fmt.Errorf("wire: %w: empty command frame", zerr.EProto)
	}
	n := int(body[0])
	if len(body) < 1+n {
		return "", nil, fmt.Errorf("wire: %w: truncated command name", zerr.EProto)
	}
	return string(body[1 : 1+n]), body[1+n:], nil
}

// EncodeSubscribe produces a v3.1 COMMAND frame body: pascal("SUBSCRIBE")
// followed by the topic bytes.
func EncodeSubscribe(topic []byte) []byte {
	return append(pascalString(CmdNameSubscribe), topic...)
}

// EncodeCancel produces a v3.1 COMMAND frame body: pascal("CANCEL")
// followed by the topic bytes.
func EncodeCancel(topic []byte) []byte {
	return append(pascalString(CmdNameCancel), topic...)
}

// EncodeSubscribeV2 produces the legacy v2 single-frame subscribe/cancel
// message: a leading 1 (subscribe) or 0 (cancel) byte followed by the
// topic, with no command-name wrapper.
func EncodeSubscribeV2(topic []byte, subscribe bool) []byte {
	out := make([]byte, 1+len(topic))
	if subscribe {
		out[0] = 1
	}
	copy(out[1:], topic)
	return out
}

// DecodeSubscribeV2 reverses EncodeSubscribeV2.
func DecodeSubscribeV2(body []byte) (topic []byte, subscribe bool, err error) {
	if len(body) < 1 {
		return nil, false, fmt.Errorf("wire: %w: empty v2 subscribe frame", zerr.EProto)
	}
	return body[1:], body[0] != 0, nil
}

// EncodePing produces a PING command frame body. Per the wire layout this
// module follows, the 16-bit big-endian TTL precedes the pascal("PING")
// marker, followed by optional context (0..255 bytes).
func EncodePing(ttl uint16, context []byte) []byte {
	out := make([]byte, 2, 2+1+len(CmdNamePing)+len(context))
	binary.BigEndian.PutUint16(out, ttl)
	out = append(out, pascalString(CmdNamePing)...)
	out = append(out, context...)
	return out
}

// DecodePing parses a PING command frame body produced by EncodePing.
func DecodePing(body []byte) (ttl uint16, context []byte, err error) {
	if len(body) < 2 {
		return 0, nil, fmt.Errorf("wire: %w: truncated PING ttl", zerr.EProto)
	}
	ttl = binary.BigEndian.Uint16(body)
	name, rest, err := ParseCommandName(body[2:])
	if err != nil {
		return 0, nil, err
	}
	if name != CmdNamePing {
		return 0, nil, fmt.Errorf("wire: %w: expected PING marker, got %q", zerr.EProto, name)
	}
	return ttl, rest, nil
}

// EncodePong mirrors EncodePing's layout with the PONG marker and no TTL
// field, carrying back the same context bytes the PING supplied.
func EncodePong(context []byte) []byte {
	out := pascalString(CmdNamePong)
	return append(out, context...)
}

// DecodePong parses a PONG command frame body produced by EncodePong.
func DecodePong(body []byte) (context []byte, err error) {
	name, rest, err := ParseCommandName(body)
	if err != nil {
		return nil, err
	}
	if name != CmdNamePong {
		return nil, fmt.Errorf("wire: %w: expected PONG marker, got %q", zerr.EProto, name)
	}
	return rest, nil
}

// Property is one name/value pair of a READY command's property list,
// encoded as {name_len: u8, name, value_len: u32 big-endian, value}.
type Property struct {
	Name  string
	Value []byte
}

// EncodeReady produces a READY command frame body carrying props in order.
func EncodeReady(props []Property) []byte {
	body := pascalString(CmdNameReady)
	for _, p := range props {
		body = append(body, byte(len(p.Name)))
		body = append(body, p.Name...)
		var vlen [4]byte
		binary.BigEndian.PutUint32(vlen[:], uint32(len(p.Value)))
		body = append(body, vlen[:]...)
		body = append(body, p.Value...)
	}
	return body
}

// DecodeReady parses a READY command frame body into its property list.
func DecodeReady(body []byte) ([]Property, error) {
	name, rest, err := ParseCommandName(body)
	if err != nil {
		return nil, err
	}
	if name != CmdNameReady {
		return nil, fmt.Errorf("wire: %w: expected READY marker, got %q", zerr.EProto, name)
	}
	return decodeProperties(rest)
}

func decodeProperties(b []byte) ([]Property, error) {
	var props []Property
	for len(b) > 0 {
		if len(b) < 1 {
			return nil, fmt.Errorf("wire: %w: truncated property name length", zerr.EProto)
		}
		nlen := int(b[0])
		b = b[1:]
		if len(b) < nlen+4 {
			return nil, fmt.Errorf("wire: %w: truncated property", zerr.EProto)
		}
		name := string(b[:nlen])
		b = b[nlen:]
		vlen := int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		if len(b) < vlen {
			return nil, fmt.Errorf("wire: %w: truncated property value", zerr.EProto)
		}
		props = append(props, Property{Name: name, Value: append([]byte(nil), b[:vlen]...)})
		b = b[vlen:]
	}
	return props, nil
}

// EncodeError produces an ERROR command frame body carrying a 1-byte
// reason length followed by the reason text.
func EncodeError(reason string) ([]byte, error) {
	if len(reason) > 255 {
		return nil, fmt.Errorf("wire: %w: error reason exceeds 255 bytes", zerr.EInval)
	}
	body := pascalString(CmdNameError)
	body = append(body, byte(len(reason)))
	body = append(body, reason...)
	return body, nil
}

// DecodeError parses an ERROR command frame body produced by EncodeError.
func DecodeError(body []byte) (reason string, err error) {
	name, rest, err := ParseCommandName(body)
	if err != nil {
		return "", err
	}
	if name != CmdNameError {
		return "", fmt.Errorf("wire: %w: expected ERROR marker, got %q", zerr.EProto, name)
	}
	if len(rest) < 1 {
		return "", fmt.Errorf("wire: %w: truncated ERROR reason length", zerr.EProto)
	}
	n := int(rest[0])
	if len(rest) < 1+n {
		return "", fmt.Errorf("wire: %w: truncated ERROR reason", zerr.EProto)
	}
	return string(rest[1 : 1+n]), nil
}
