package wso

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/RobertWHurst/jamn"
	"github.com/rs/zerolog"
)

// Opcode identifies the purpose of a frame.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%x)", byte(o))
	}
}

// IsControl reports whether the opcode is a control opcode.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

func (o Opcode) valid() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

// Frame decoding errors. Fatal errors wrap jamn.ErrProtocolFatal and end the
// connection; recoverable errors wrap jamn.ErrProtocol.
var (
	ErrShortHeader     = fmt.Errorf("%w: frame header incomplete", jamn.ErrProtocolFatal)
	ErrPayloadTooLarge = fmt.Errorf("%w: frame payload exceeds maximum", jamn.ErrProtocolFatal)
	ErrTruncatedFrame  = fmt.Errorf("%w: stream ended before frame payload was complete", jamn.ErrProtocolFatal)
	ErrUnknownOpcode   = fmt.Errorf("%w: unknown frame opcode", jamn.ErrProtocol)
)

const (
	finBit     = 0x80
	opcodeMask = 0x0F
	maskBit    = 0x80
	lengthMask = 0x7F

	length16 = 126
	length64 = 127
)

// Frame is one decoded WebSocket frame. It keeps the raw bytes it was decoded
// from, which is what a close frame echoes back. A frame that opens a
// fragmented message also accumulates the payloads of the frames that follow.
type Frame struct {
	raw           []byte
	fin           bool
	opcode        Opcode
	masked        bool
	payloadLength int64
	headerOffset  int
	maskingKey    [4]byte
	fragments     *bytes.Buffer
}

// DecodeFrame decodes the header of packet, which must hold at least the
// complete frame header. Bytes after the header are taken as (part of) the
// payload. An unknown opcode returns the decoded frame together with
// ErrUnknownOpcode.
func DecodeFrame(packet []byte) (*Frame, error) {
	f := &Frame{raw: packet}
	if err := f.decodeHeader(); err != nil {
		return f, err
	}
	return f, nil
}

// ReadFrame reads one frame from r: the header, then the payload. Payloads
// longer than maxPayload are rejected before they are read. If reading fails
// before the first header byte, the read error is returned unwrapped and the
// frame is nil.
func ReadFrame(r io.Reader, maxPayload int64) (*Frame, error) {
	head := make([]byte, 2, 14)
	if n, err := io.ReadFull(r, head); err != nil {
		if n == 0 {
			return nil, err
		}
		return &Frame{raw: head[:n]}, fmt.Errorf("%w: %s", ErrShortHeader, err)
	}

	extra := 0
	switch head[1] & lengthMask {
	case length16:
		extra = 2
	case length64:
		extra = 8
	}
	if head[1]&maskBit != 0 {
		extra += 4
	}
	if extra > 0 {
		head = head[:2+extra]
		if n, err := io.ReadFull(r, head[2:]); err != nil {
			return &Frame{raw: head[:2+n]}, fmt.Errorf("%w: %s", ErrShortHeader, err)
		}
	}

	f, decodeErr := DecodeFrame(head)
	if decodeErr != nil && !errors.Is(decodeErr, ErrUnknownOpcode) {
		return f, decodeErr
	}
	if err := f.completePayload(r, maxPayload); err != nil {
		return f, err
	}
	return f, decodeErr
}

func (f *Frame) decodeHeader() error {
	if len(f.raw) < 2 {
		return ErrShortHeader
	}

	f.fin = f.raw[0]&finBit != 0
	f.opcode = Opcode(f.raw[0] & opcodeMask)
	f.masked = f.raw[1]&maskBit != 0

	offset := 2
	switch indicator := f.raw[1] & lengthMask; indicator {
	case length16:
		if len(f.raw) < offset+2 {
			return ErrShortHeader
		}
		f.payloadLength = int64(binary.BigEndian.Uint16(f.raw[offset:]))
		offset += 2
	case length64:
		if len(f.raw) < offset+8 {
			return ErrShortHeader
		}
		length := binary.BigEndian.Uint64(f.raw[offset:])
		if length > 1<<63-1 {
			return fmt.Errorf("%w: length %d", ErrPayloadTooLarge, length)
		}
		f.payloadLength = int64(length)
		offset += 8
	default:
		f.payloadLength = int64(indicator)
	}

	if f.masked {
		if len(f.raw) < offset+4 {
			return ErrShortHeader
		}
		copy(f.maskingKey[:], f.raw[offset:offset+4])
		offset += 4
	}
	f.headerOffset = offset

	if !f.opcode.valid() {
		return fmt.Errorf("%w: 0x%x", ErrUnknownOpcode, byte(f.opcode))
	}
	return nil
}

// completePayload makes sure every payload byte the header declares is
// present, reading the remainder from r.
func (f *Frame) completePayload(r io.Reader, maxPayload int64) error {
	if f.payloadLength > maxPayload {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, f.payloadLength, maxPayload)
	}

	total := int64(f.headerOffset) + f.payloadLength
	missing := total - int64(len(f.raw))
	if missing <= 0 {
		f.raw = f.raw[:total]
		return nil
	}

	have := len(f.raw)
	raw := make([]byte, total)
	copy(raw, f.raw)
	n, err := io.ReadFull(r, raw[have:])
	f.raw = raw[:have+n]
	if err != nil {
		return fmt.Errorf("%w: read %d of %d payload bytes", ErrTruncatedFrame, int64(have+n-f.headerOffset), f.payloadLength)
	}
	return nil
}

func (f *Frame) Fin() bool { return f.fin }
func (f *Frame) Opcode() Opcode { return f.opcode }
func (f *Frame) Masked() bool { return f.masked }
func (f *Frame) PayloadLength() int64 { return f.payloadLength }
func (f *Frame) HeaderLength() int { return f.headerOffset }
func (f *Frame) MaskingKey() [4]byte { return f.maskingKey }

// Raw returns the bytes the frame was decoded from.
func (f *Frame) Raw() []byte { return f.raw }

// Payload returns the unmasked payload followed by the payloads of any
// fragments added to the frame.
func (f *Frame) Payload() []byte {
	var payload []byte
	if f.headerOffset <= len(f.raw) {
		payload = f.raw[f.headerOffset:]
	}
	if f.masked {
		payload = Mask(f.maskingKey, payload)
	} else {
		payload = append([]byte(nil), payload...)
	}
	if f.fragments != nil {
		payload = append(payload, f.fragments.Bytes()...)
	}
	return payload
}

// AvailableData returns whatever payload bytes were received, unmasked. It
// is used to report the data of a frame that failed to decode completely.
func (f *Frame) AvailableData() []byte {
	if f == nil || len(f.raw) <= f.headerOffset || f.headerOffset == 0 {
		return nil
	}
	return f.Payload()
}

// IsFragmented reports whether the frame holds a fragmented message.
func (f *Frame) IsFragmented() bool {
	return f.fragments != nil
}

// AddFragment appends the payload of next to the message this frame holds.
func (f *Frame) AddFragment(next *Frame) {
	if f.fragments == nil {
		f.fragments = &bytes.Buffer{}
	}
	f.fragments.Write(next.Payload())
}

// MarshalZerologObject logs the decoded header fields of the frame.
func (f *Frame) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("fin", f.fin).
		Str("opcode", f.opcode.String()).
		Bool("masked", f.masked).
		Int64("payloadLength", f.payloadLength).
		Int("headerLength", f.headerOffset).
		Int("raw", len(f.raw))
	if f.fragments != nil {
		e.Int("fragments", f.fragments.Len())
	}
}

// Mask XORs payload with key and returns the result in a new slice. Masking
// twice with the same key restores the original payload.
func Mask(key [4]byte, payload []byte) []byte {
	out := make([]byte, len(payload))
	for i, b := range payload {
		out[i] = b ^ key[i%4]
	}
	return out
}
