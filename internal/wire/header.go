// Package wire marshals and unmarshals the 8-byte frame header used by the
// operation multiplexer. Layout must match the wire format exactly
// (little-endian, 8 bytes, 8-byte-aligned payload start):
//
//	size         u16  total frame bytes including header
//	operation_id u16  correlation id; 0 means "not yet assigned"
//	type         u8   opcode; top bit (0x80) set => response
//	result       u8   0 = success in responses; must be 0 in requests
//	reserved     [2]byte
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed on-wire header size in bytes.
const HeaderSize = 8

// ResponseBit marks a frame's type byte as a response rather than a request.
const ResponseBit uint8 = 0x80

// Header is the decoded form of a frame header.
type Header struct {
	Size        uint16
	OperationID uint16
	Type        uint8
	Result      uint8
}

// IsResponse reports whether the header's type byte marks a response.
func (h Header) IsResponse() bool {
	return h.Type&ResponseBit != 0
}

// Opcode returns the type byte with the response bit masked off.
func (h Header) Opcode() uint8 {
	return h.Type &^ ResponseBit
}

// ErrShortBuffer is returned when a buffer is too small to hold a header.
type ErrShortBuffer struct {
	Have, Want int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("wire: short buffer: have %d bytes, need %d", e.Have, e.Want)
}

// Marshal writes h's on-wire encoding into buf[:HeaderSize]. buf must be at
// least HeaderSize bytes long.
func Marshal(buf []byte, h Header) error {
	if len(buf) < HeaderSize {
		return &ErrShortBuffer{Have: len(buf), Want: HeaderSize}
	}
	binary.LittleEndian.PutUint16(buf[0:2], h.Size)
	binary.LittleEndian.PutUint16(buf[2:4], h.OperationID)
	buf[4] = h.Type
	buf[5] = h.Result
	buf[6] = 0
	buf[7] = 0
	return nil
}

// Unmarshal decodes a header from the front of buf.
func Unmarshal(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &ErrShortBuffer{Have: len(buf), Want: HeaderSize}
	}
	return Header{
		Size:        binary.LittleEndian.Uint16(buf[0:2]),
		OperationID: binary.LittleEndian.Uint16(buf[2:4]),
		Type:        buf[4],
		Result:      buf[5],
		// buf[6:8] reserved, ignored on receive
	}, nil
}

// RequestType returns the wire type byte for a request of the given opcode.
func RequestType(opcode uint8) uint8 {
	return opcode &^ ResponseBit
}

// ResponseType returns the wire type byte for a response of the given opcode.
func ResponseType(opcode uint8) uint8 {
	return opcode | ResponseBit
}
