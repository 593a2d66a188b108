package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/infodancer/serverlink/internal/zerr"
)

// Frame flag bits.
const (
	FlagMore    byte = 0x01
	FlagLarge   byte = 0x02
	FlagCommand byte = 0x04
)

// NoMaxMsgSize disables the size check; a non-negative maxMsgSize
// rejects any frame whose declared size exceeds it with EMsgSize.
const NoMaxMsgSize = -1

// WriteFrame writes one frame: a flags byte, a size (1 or 9 bytes), then
// body. more and isCommand set the corresponding flag bits; LARGE is
// derived automatically from len(body).
func WriteFrame(w io.Writer, body []byte, more, isCommand bool) error {
	var flag byte
	if more {
		flag |= FlagMore
	}
	if isCommand {
		flag |= FlagCommand
	}

	size := len(body)
	isLarge := size > 255
	var hdr [9]byte
	var hdrLen int
	if isLarge {
		flag |= FlagLarge
		hdr[0] = flag
		binary.BigEndian.PutUint64(hdr[1:], uint64(size))
		hdrLen = 9
	} else {
		hdr[0] = flag
		hdr[1] = byte(size)
		hdrLen = 2
	}

	if _, err := w.Write(hdr[:hdrLen]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("wire: write frame body: %w", err)
		}
	}
	return nil
}

// Frame is one decoded wire frame.
type Frame struct {
	Body      []byte
	More      bool
	IsCommand bool
}

// ReadFrame reads one frame from r, enforcing maxMsgSize (NoMaxMsgSize to
// disable the check).
func ReadFrame(r io.Reader, maxMsgSize int64) (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame header: %w", err)
	}

	flag := hdr[0]
	size := uint64(hdr[1])

	if flag&FlagLarge != 0 {
		var rest [8]byte
		rest[0] = hdr[1]
		if _, err := io.ReadFull(r, rest[1:]); err != nil {
			return Frame{}, fmt.Errorf("wire: read large frame size: %w", err)
		}
		size = binary.BigEndian.Uint64(rest[:])
	}

	if maxMsgSize >= 0 && size > uint64(maxMsgSize) {
		return Frame{}, fmt.Errorf("wire: %w: frame size %d exceeds limit %d", zerr.EMsgSize, size, maxMsgSize)
	}

	body := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, fmt.Errorf("wire: read frame body: %w", err)
		}
	}

	return Frame{
		Body:      body,
		More:      flag&FlagMore != 0,
		IsCommand: flag&FlagCommand != 0,
	}, nil
}

// ReadMessage reads one full ZMTP message (a run of frames terminated by a
// frame without MORE set), returning the constituent frame bodies and
// whether any frame in the run carried the COMMAND bit.
func ReadMessage(r io.Reader, maxMsgSize int64) (frames [][]byte, isCommand bool, err error) {
	for {
		f, err := ReadFrame(r, maxMsgSize)
		if err != nil {
			return nil, false, err
		}
		frames = append(frames, f.Body)
		isCommand = isCommand || f.IsCommand
		if !f.More {
			return frames, isCommand, nil
		}
	}
}
