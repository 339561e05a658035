package opmux

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-opmux/internal/pending"
	"github.com/ehrlich-b/go-opmux/internal/wire"
)

// Direction distinguishes an operation the local side originated from one
// that arrived from the remote peer.
type Direction uint8

const (
	// Outgoing operations are created by a local submitter via NewOperation.
	Outgoing Direction = iota
	// Incoming operations are created by the receive dispatcher for an
	// inbound request frame.
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Operation aggregates a request Message Buffer, an optional response
// Message Buffer, a correlation id, a result, and the bookkeeping needed
// to deliver its completion exactly once.
type Operation struct {
	conn      *Connection
	direction Direction
	opType    uint8
	createdAt time.Time

	mu         sync.Mutex
	id         uint16
	request    *messageBuffer
	response   *messageBuffer
	resultByte uint8
	err        error
	cancelled  bool
	completed  bool
	callback   func(*Operation)
	timer      *time.Timer

	done chan struct{}

	refCount int32
}

// NewOperation creates an outgoing operation on conn, allocating both its
// request and response message buffers. respPayloadSize must be > 0:
// responses always carry at least a status byte.
func NewOperation(conn *Connection, opType uint8, reqPayloadSize, respPayloadSize int) (*Operation, error) {
	if respPayloadSize <= 0 {
		return nil, NewConnError("NewOperation", conn.id, ErrCodeTooLarge, "response_payload_size must be > 0")
	}

	reqBuf, err := allocateBuffer(conn, reqPayloadSize, true, opType, true)
	if err != nil {
		return nil, err
	}
	respBuf, err := allocateBuffer(conn, respPayloadSize, false, opType, true)
	if err != nil {
		reqBuf.release(conn)
		return nil, err
	}

	op := &Operation{
		conn:      conn,
		direction: Outgoing,
		opType:    opType,
		createdAt: time.Now(),
		request:   reqBuf,
		response:  respBuf,
		done:      make(chan struct{}),
		refCount:  1,
	}
	conn.pending.Track(op)
	return op, nil
}

// NewIncomingOperation creates an operation for an inbound request frame.
// raw is the full frame (header + payload) already copied out of the
// transport's receive buffer; hdr is its parsed header.
func NewIncomingOperation(conn *Connection, hdr wire.Header, raw []byte) (*Operation, error) {
	frame, err := conn.device.BufferAlloc(len(raw), false)
	if err != nil {
		return nil, NewConnError("NewIncomingOperation", conn.id, ErrCodeOutOfMemory, err.Error())
	}
	copy(frame, raw)

	op := &Operation{
		conn:      conn,
		direction: Incoming,
		opType:    hdr.Opcode(),
		createdAt: time.Now(),
		id:        hdr.OperationID,
		request:   newRawBuffer(frame),
		done:      make(chan struct{}),
		refCount:  1,
	}
	conn.pending.Track(op)
	return op, nil
}

// SetID implements pending.Op. It is called by the pending table exactly
// once, from InsertPending, and stamps the correlation id into the
// request frame's header.
func (op *Operation) SetID(id uint16) {
	op.mu.Lock()
	op.id = id
	op.request.setID(id)
	op.mu.Unlock()
}

// ID returns the operation's correlation id (0 if not yet submitted).
func (op *Operation) ID() uint16 {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.id
}

// Direction reports whether this operation was locally submitted or
// arrived from the peer.
func (op *Operation) Direction() Direction { return op.direction }

// RequestPayload returns the operation's request payload bytes.
func (op *Operation) RequestPayload() []byte {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.request.payload()
}

// ResponsePayload returns the operation's response payload bytes, or nil
// if no response buffer is attached yet.
func (op *Operation) ResponsePayload() []byte {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.response == nil {
		return nil
	}
	return op.response.payload()
}

// hasResponse reports whether a response buffer is attached, regardless
// of its payload size — a zero-payload response (status carried entirely
// in the header's result byte) still needs to be sent.
func (op *Operation) hasResponse() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.response != nil
}

// Result returns the wire result byte of a successfully matched response.
// It is meaningless until the operation has completed.
func (op *Operation) Result() uint8 {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.resultByte
}

// Err returns the local completion error (Timeout, Overflow, ProtocolBad),
// or nil if the operation completed with a matched response. An
// interrupted wait is reported only by Submit's return value, not here. A
// non-zero Result() with a nil Err() means the peer reported a
// protocol-defined failure, which is not this package's concern.
func (op *Operation) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

// SetResult attaches a result code to an incoming operation's response,
// for use by Protocol handlers before calling SendResponse.
func (op *Operation) SetResult(code uint8) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.resultByte = code
	if op.response != nil {
		op.response.setResult(code)
	}
}

// Respond allocates a response message buffer of the given payload size
// for an incoming operation. Must be called by a Protocol handler before
// SendResponse.
func (op *Operation) Respond(payloadSize int) error {
	op.mu.Lock()
	conn, typ := op.conn, op.opType
	op.mu.Unlock()

	buf, err := allocateBuffer(conn, payloadSize, false, typ, true)
	if err != nil {
		return err
	}

	op.mu.Lock()
	op.response = buf
	op.mu.Unlock()
	return nil
}

func (op *Operation) setErr(err error) {
	op.mu.Lock()
	op.err = err
	op.mu.Unlock()
}

// Submit assigns a correlation id, hands the request buffer to the
// transport, and arms the per-operation timeout. If callback is nil,
// Submit blocks until completion (or context cancellation) and returns
// the operation's completion error; otherwise it returns immediately and
// callback is invoked exactly once, from the deferred completion runner
// or the timeout, when the operation completes.
func (op *Operation) Submit(ctx context.Context, callback func(*Operation)) error {
	conn := op.conn
	if !conn.Enabled() {
		return NewConnError("Submit", conn.id, ErrCodeNotConnected, "connection is disabled")
	}

	op.mu.Lock()
	op.callback = callback
	op.mu.Unlock()

	id := conn.pending.InsertPending(op)

	if err := op.request.send(ctx, conn, conn.cportID, true); err != nil {
		// Open question resolved (see design notes): remove from pending on
		// send failure rather than leaving a live entry with no in-flight
		// buffer, preserving "at most one operation per id in pending".
		conn.pending.RemovePending(op, id)
		return err
	}

	conn.observer.ObserveSubmit()
	op.armTimeout()

	if callback != nil {
		return nil
	}
	return op.wait(ctx)
}

func (op *Operation) armTimeout() {
	conn := op.conn
	op.mu.Lock()
	op.timer = time.AfterFunc(conn.opTimeout, op.fireTimeout)
	op.mu.Unlock()
}

// cancelTimeout performs a non-waiting try-cancel: if the timer has
// already fired, its handler proceeds and the caller (the response path)
// must detect the operation is no longer pending and drop the response.
func (op *Operation) cancelTimeout() {
	op.mu.Lock()
	t := op.timer
	op.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// fireTimeout runs on the timer service's own goroutine. It races the
// response path for ownership of the pending entry via TakePending; only
// the winner calls complete.
func (op *Operation) fireTimeout() {
	conn := op.conn
	taken, ok := conn.pending.TakePending(op.id)
	if !ok || taken != pending.Op(op) {
		return
	}
	op.setErr(NewOpError("Submit", conn.id, op.id, ErrCodeTimeout, "operation timed out"))
	conn.observer.ObserveTimeout()
	op.complete()
}

// wait blocks until the operation completes or ctx is done. On context
// cancellation it cancels the request buffer and returns an interrupted
// error; the operation itself is not completed by the interrupt and may
// still resolve normally afterward (complete is idempotent).
func (op *Operation) wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.Err()
	case <-ctx.Done():
		op.request.cancel(op.conn)
		return NewOpError("Wait", op.conn.id, op.ID(), ErrCodeInterrupted, "wait interrupted")
	}
}

// Cancel marks the operation cancelled and asks the transport to recall
// its buffers. Idempotent: a second Cancel is a no-op. Cancellation does
// not itself deliver completion.
func (op *Operation) Cancel() {
	op.mu.Lock()
	already := op.cancelled
	op.cancelled = true
	req, resp := op.request, op.response
	op.mu.Unlock()
	if already {
		return
	}

	if req != nil {
		req.cancel(op.conn)
	}
	if resp != nil {
		resp.cancel(op.conn)
	}
	op.conn.observer.ObserveCancel()
}

// complete is the single choke-point for delivering a completion. It is
// invoked only from the deferred completion runner and from timeout
// fire, and is idempotent so that exactly one of those call sites has an
// observable effect.
func (op *Operation) complete() {
	op.mu.Lock()
	if op.completed {
		op.mu.Unlock()
		return
	}
	op.completed = true
	cb := op.callback
	resultByte := op.resultByte
	op.mu.Unlock()

	op.conn.observer.ObserveComplete(resultByte, uint64(time.Since(op.createdAt).Nanoseconds()))

	if cb != nil {
		cb(op)
	} else {
		close(op.done)
	}
}

// Retain increments the operation's reference count. Callers that keep a
// handle to an operation past the scope that created it (e.g. a Protocol
// handler deferring its response) must Retain and later Release.
func (op *Operation) Retain() {
	atomic.AddInt32(&op.refCount, 1)
}

// Release decrements the reference count; at zero it removes the
// operation from the connection's tracking table and frees its message
// buffers.
func (op *Operation) Release() {
	if atomic.AddInt32(&op.refCount, -1) > 0 {
		return
	}

	op.mu.Lock()
	req, resp := op.request, op.response
	op.mu.Unlock()

	op.conn.pending.Untrack(op)
	req.release(op.conn)
	resp.release(op.conn)
}

// SendResponse transmits an incoming operation's attached response buffer
// to the peer. The caller remains responsible for Release; SendResponse
// does not destroy the operation (see design notes on why the source's
// destroy-on-send behavior was not replicated).
func (op *Operation) SendResponse(ctx context.Context) error {
	op.mu.Lock()
	resp := op.response
	id := op.id
	op.mu.Unlock()

	if resp == nil {
		return NewOpError("SendResponse", op.conn.id, id, ErrCodeNotConnected, "no response buffer attached")
	}
	resp.setID(id)
	return resp.send(ctx, op.conn, op.conn.cportID, true)
}
