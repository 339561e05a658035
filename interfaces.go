package opmux

import "context"

// HostDevice is the external, per-connection transport collaborator. It
// owns buffer memory and the asynchronous send/cancel primitives; the core
// never talks to hardware or a socket directly. Implementations live in
// internal/transport (an io_uring-backed one and a loopback one for tests).
type HostDevice interface {
	// BufferAlloc returns a zeroed buffer of exactly size bytes. mayBlock
	// selects blocking allocation flags (from a caller thread) versus
	// non-blocking ones (from the receive-dispatch path).
	BufferAlloc(size int, mayBlock bool) ([]byte, error)

	// BufferFree returns a buffer obtained from BufferAlloc. Idempotent.
	BufferFree(buf []byte)

	// BufferSend hands buf to the transport for delivery to cportID and
	// returns an opaque cookie identifying the in-flight send. The cookie
	// remains valid until the transport signals completion or accepts a
	// BufferCancel.
	BufferSend(ctx context.Context, cportID uint32, buf []byte, mayBlock bool) (cookie uint64, err error)

	// BufferCancel asks the transport to recall an in-flight send. A no-op
	// if the send already completed.
	BufferCancel(cookie uint64)
}

// Protocol is the external, per-connection collaborator that interprets
// the frame type byte and dispatches incoming requests. RequestRecv is
// invoked on the deferred completion runner, never from the receive
// dispatcher directly.
type Protocol interface {
	// RequestRecv handles one incoming request. The handler attaches op's
	// response via (*Operation).Respond (and SetResult) before returning;
	// the dispatcher then transmits an attached response with
	// (*Operation).SendResponse after RequestRecv returns.
	//
	// RequestRecv may return false if it has no handler registered for
	// opType, in which case the operation is completed with ProtocolBad.
	RequestRecv(opType uint8, op *Operation) bool
}

// Logger is the logging sink accepted by Options. *logging.Logger
// satisfies it; so does any adapter a caller wants to wire in.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer receives operation lifecycle signals for metrics collection.
// *Metrics (via NewMetricsObserver) satisfies it; so does any caller-supplied
// implementation. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveSubmit()
	ObserveComplete(resultCode uint8, latencyNs uint64)
	ObserveTimeout()
	ObserveOverflow()
	ObserveProtocolBad()
	ObserveCancel()
}
