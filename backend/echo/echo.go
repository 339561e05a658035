// Package echo provides a demonstration Protocol implementation for
// go-opmux: it reflects every incoming request payload back as the
// response payload, unmodified, with a fixed success result byte.
package echo

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-opmux"
)

// OpType is the wire opcode this protocol handles.
const OpType = 0x01

// ResultOK is the result byte attached to every echoed response.
const ResultOK = 0x00

// Protocol echoes request payloads back as responses. It tracks the
// number of requests handled for tests and diagnostics.
type Protocol struct {
	handled atomic.Uint64
}

// New creates an echo Protocol.
func New() *Protocol {
	return &Protocol{}
}

// Handled returns the number of requests echoed so far.
func (p *Protocol) Handled() uint64 {
	return p.handled.Load()
}

// RequestRecv implements opmux.Protocol. Any opcode is accepted; the
// request payload is copied into a freshly allocated response buffer of
// the same size and sent back with ResultOK.
func (p *Protocol) RequestRecv(opType uint8, op *opmux.Operation) bool {
	req := op.RequestPayload()
	if err := op.Respond(len(req)); err != nil {
		return false
	}
	copy(op.ResponsePayload(), req)
	op.SetResult(ResultOK)
	p.handled.Add(1)
	return true
}

var _ opmux.Protocol = (*Protocol)(nil)
