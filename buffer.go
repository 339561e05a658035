package opmux

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/go-opmux/internal/wire"
)

// messageBuffer owns one contiguous frame (header + payload) allocated
// through the connection's HostDevice. It never copies its memory once
// handed to the transport, except via an explicit cancel.
type messageBuffer struct {
	frame    []byte
	cookie   uint64
	inFlight bool
	released bool
}

// allocateBuffer computes the frame size for payloadSize, fails with
// ErrCodeTooLarge if it exceeds the connection's max frame size, and
// otherwise requests memory from the host device and stamps a fresh
// header. mayBlock selects blocking vs non-blocking allocation flags.
func allocateBuffer(conn *Connection, payloadSize int, isRequest bool, opType uint8, mayBlock bool) (*messageBuffer, error) {
	frameSize := wire.HeaderSize + payloadSize
	if frameSize > conn.maxFrameSize {
		return nil, NewConnError("allocate", conn.id, ErrCodeTooLarge,
			fmt.Sprintf("frame size %d exceeds max %d", frameSize, conn.maxFrameSize))
	}

	frame, err := conn.device.BufferAlloc(frameSize, mayBlock)
	if err != nil {
		return nil, NewConnError("allocate", conn.id, ErrCodeOutOfMemory, err.Error())
	}

	typ := wire.RequestType(opType)
	if !isRequest {
		typ = wire.ResponseType(opType)
	}
	h := wire.Header{Size: uint16(frameSize), OperationID: 0, Type: typ, Result: 0}
	if err := wire.Marshal(frame, h); err != nil {
		conn.device.BufferFree(frame)
		return nil, NewConnError("allocate", conn.id, ErrCodeOutOfMemory, err.Error())
	}

	return &messageBuffer{frame: frame}, nil
}

// newRawBuffer wraps an already-allocated frame whose header was already
// written by the sender (used for incoming frames copied verbatim).
func newRawBuffer(frame []byte) *messageBuffer {
	return &messageBuffer{frame: frame}
}

func (b *messageBuffer) payload() []byte {
	if len(b.frame) <= wire.HeaderSize {
		return nil
	}
	return b.frame[wire.HeaderSize:]
}

func (b *messageBuffer) header() (wire.Header, error) {
	return wire.Unmarshal(b.frame)
}

// setID rewrites the operation_id field of an already-marshaled header.
func (b *messageBuffer) setID(id uint16) {
	h, err := wire.Unmarshal(b.frame)
	if err != nil {
		return
	}
	h.OperationID = id
	_ = wire.Marshal(b.frame, h)
}

// setResult rewrites the result byte of an already-marshaled header.
func (b *messageBuffer) setResult(result uint8) {
	h, err := wire.Unmarshal(b.frame)
	if err != nil {
		return
	}
	h.Result = result
	_ = wire.Marshal(b.frame, h)
}

// send hands the buffer to the transport, recording the returned cookie.
// On failure the cookie is left unset.
func (b *messageBuffer) send(ctx context.Context, conn *Connection, cportID uint32, mayBlock bool) error {
	cookie, err := conn.device.BufferSend(ctx, cportID, b.frame, mayBlock)
	if err != nil {
		return WrapTransportError("send", conn.id, 0, err)
	}
	b.cookie = cookie
	b.inFlight = true
	return nil
}

// cancel asks the transport to recall an in-flight buffer. A no-op if the
// buffer was never sent or was already cancelled. The buffer is not told
// when the transport finishes a send, so a sent buffer is passed to
// BufferCancel even after that send has completed.
func (b *messageBuffer) cancel(conn *Connection) {
	if !b.inFlight {
		return
	}
	conn.device.BufferCancel(b.cookie)
	b.inFlight = false
}

// release returns the buffer to the host device. Idempotent.
func (b *messageBuffer) release(conn *Connection) {
	if b == nil || b.released {
		return
	}
	b.released = true
	conn.device.BufferFree(b.frame)
}
