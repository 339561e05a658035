package opmux

import (
	"context"

	"github.com/ehrlich-b/go-opmux/internal/pending"
	"github.com/ehrlich-b/go-opmux/internal/runner"
	"github.com/ehrlich-b/go-opmux/internal/wire"
)

// Recv is the receive dispatcher's entry point: it parses a raw frame
// delivered by the transport, classifies it request vs response, and
// routes it. Recv may execute in an interrupt-like context — it never
// invokes user code directly; request handlers and completion callbacks
// run on the connection's deferred completion runner. Handing a job to
// the runner is a blocking enqueue: while the runner's queue is full,
// Recv blocks until room frees up.
func (c *Connection) Recv(raw []byte) {
	if !c.Enabled() {
		c.logf("recv: dropping frame, connection disabled")
		return
	}
	if len(raw) < wire.HeaderSize {
		c.logf("recv: dropping short frame (%d bytes)", len(raw))
		return
	}

	hdr, err := wire.Unmarshal(raw)
	if err != nil {
		c.logf("recv: dropping malformed frame: %v", err)
		return
	}
	if int(hdr.Size) > len(raw) {
		c.logf("recv: dropping incomplete frame (header.size=%d, have=%d)", hdr.Size, len(raw))
		return
	}

	frame := raw[:hdr.Size]
	if hdr.IsResponse() {
		c.recvResponse(hdr, frame)
		return
	}
	c.recvRequest(hdr, frame)
}

// recvResponse locates the pending operation by correlation id, try-
// cancels its timeout, and either records an overflow or copies the
// payload into the response buffer — always deferring the actual
// completion call to the runner.
func (c *Connection) recvResponse(hdr wire.Header, frame []byte) {
	rawOp, ok := c.pending.TakePending(hdr.OperationID)
	if !ok {
		c.logf("recv: dropping response for unknown id %d", hdr.OperationID)
		return
	}
	op, ok := rawOp.(*Operation)
	if !ok {
		return
	}
	op.cancelTimeout()

	payload := frame[wire.HeaderSize:]

	op.mu.Lock()
	capacity := len(op.response.payload())
	overflow := len(payload) > capacity
	if overflow {
		op.mu.Unlock()
		c.observer.ObserveOverflow()
		op.setErr(NewOpError("Recv", c.id, hdr.OperationID, ErrCodeOverflow, "response exceeds buffer capacity"))
	} else {
		copy(op.response.payload(), payload)
		op.resultByte = hdr.Result
		op.mu.Unlock()
	}

	c.runner.Enqueue(runner.Job{Run: op.complete})
}

// recvRequest allocates an incoming operation holding the copied frame
// and enqueues the protocol dispatch to the runner.
func (c *Connection) recvRequest(hdr wire.Header, frame []byte) {
	op, err := NewIncomingOperation(c, hdr, frame)
	if err != nil {
		c.logf("recv: dropping request, allocation failed: %v", err)
		return
	}

	c.runner.Enqueue(runner.Job{Run: func() {
		c.dispatchIncoming(hdr, op)
	}})
}

// dispatchIncoming runs on the deferred completion runner: it invokes
// the protocol handler (if any), transmits a response the handler
// attached, completes the operation, and releases the runner's
// reference.
func (c *Connection) dispatchIncoming(hdr wire.Header, op *Operation) {
	handled := false
	if c.protocol != nil {
		handled = c.protocol.RequestRecv(hdr.Opcode(), op)
	}

	if !handled {
		c.observer.ObserveProtocolBad()
		op.setErr(NewOpError("RequestRecv", c.id, op.ID(), ErrCodeProtocolBad, "no protocol handler registered"))
	} else if op.hasResponse() {
		if err := op.SendResponse(context.Background()); err != nil {
			c.logf("recv: sending response for id %d failed: %v", op.ID(), err)
		}
	}

	op.complete()
	op.Release()
}

var _ pending.Op = (*Operation)(nil)
