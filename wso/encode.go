package wso

import "encoding/binary"

// EncodeText encodes payload as a single unmasked text frame, the only kind of
// frame the server sends to clients.
func EncodeText(payload []byte) []byte {
	return EncodeFrame(true, OpText, payload, nil)
}

// EncodeFrame encodes one frame. When mask is not nil the payload is masked
// with it, as clients must do.
func EncodeFrame(fin bool, opcode Opcode, payload []byte, mask *[4]byte) []byte {
	length := len(payload)

	headerLength := 2
	switch {
	case length > 0xFFFF:
		headerLength += 8
	case length > 125:
		headerLength += 2
	}
	if mask != nil {
		headerLength += 4
	}

	frame := make([]byte, headerLength, headerLength+length)
	frame[0] = byte(opcode) & opcodeMask
	if fin {
		frame[0] |= finBit
	}

	switch {
	case length > 0xFFFF:
		frame[1] = length64
		binary.BigEndian.PutUint64(frame[2:], uint64(length))
	case length > 125:
		frame[1] = length16
		binary.BigEndian.PutUint16(frame[2:], uint16(length))
	default:
		frame[1] = byte(length)
	}

	if mask != nil {
		frame[1] |= maskBit
		copy(frame[headerLength-4:], mask[:])
		return append(frame, Mask(*mask, payload)...)
	}
	return append(frame, payload...)
}
