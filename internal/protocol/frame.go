package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload accepted in either direction (4 MiB).
// A frame declaring a larger length is discarded whole; the declared length
// still delimits it, so subsequent frames stay in sync.
const MaxFrameSize = 4 << 20

// frameHeaderSize is the length prefix width in bytes.
const frameHeaderSize = 4

// ErrFrameTooLarge reports a frame whose declared length exceeds MaxFrameSize.
type ErrFrameTooLarge struct {
	Length uint32
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("protocol: frame too large: %d bytes", e.Length)
}

// EncodeFrame prepends the 4-byte big-endian length prefix to payload.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:frameHeaderSize], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	return frame
}

// WriteFrame writes payload with its length prefix to w as a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return &ErrFrameTooLarge{Length: uint32(len(payload))}
	}
	_, err := w.Write(EncodeFrame(payload))
	return err
}

// Scanner accumulates raw bytes from the engine's output stream and slices
// them into frames. The accumulator may hold zero or more complete frames
// plus at most one partial tail; framing is self-synchronizing because the
// length prefix alone delimits each frame.
type Scanner struct {
	buf []byte
}

// Feed appends a chunk read from the stream to the accumulator.
func (s *Scanner) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Next extracts the next complete frame payload, if one is buffered.
// ok is false when the accumulator holds no complete frame; the caller
// should read more input. An oversized frame is consumed in full and
// reported as an error with ok true, leaving later frames intact.
//
// The returned payload aliases the accumulator and is only valid until the
// next call to Feed or Next.
func (s *Scanner) Next() (payload []byte, ok bool, err error) {
	if len(s.buf) < frameHeaderSize {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(s.buf[:frameHeaderSize])
	total := frameHeaderSize + int(length)
	if len(s.buf) < total {
		return nil, false, nil
	}
	if length > MaxFrameSize {
		s.buf = s.buf[total:]
		return nil, true, &ErrFrameTooLarge{Length: length}
	}
	payload = s.buf[frameHeaderSize:total]
	s.buf = s.buf[total:]
	return payload, true, nil
}

// Buffered reports how many bytes are waiting in the accumulator.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}
