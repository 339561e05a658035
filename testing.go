package opmux

import (
	"context"
	"sync"
)

// MockHostDevice is an in-memory HostDevice for unit tests. Allocation
// just makes a zeroed byte slice; BufferSend records the frame (and, if
// Deliver is set, hands it to a peer connection's Recv) and returns an
// incrementing cookie; BufferCancel and BufferFree are tracked for call
// counting.
type MockHostDevice struct {
	mu sync.Mutex

	// Deliver, if set, is called synchronously from BufferSend with a
	// copy of the sent frame — wire a peer Connection's Recv here to
	// model a loopback transport.
	Deliver func(frame []byte)

	// FailSend, if true, makes every BufferSend return an error.
	FailSend bool

	nextCookie  uint64
	allocCount  int
	freeCount   int
	sendCount   int
	cancelCount int
	cancelled   map[uint64]bool
}

// NewMockHostDevice creates an empty MockHostDevice.
func NewMockHostDevice() *MockHostDevice {
	return &MockHostDevice{cancelled: make(map[uint64]bool)}
}

func (m *MockHostDevice) BufferAlloc(size int, mayBlock bool) ([]byte, error) {
	m.mu.Lock()
	m.allocCount++
	m.mu.Unlock()
	return make([]byte, size), nil
}

func (m *MockHostDevice) BufferFree(buf []byte) {
	m.mu.Lock()
	m.freeCount++
	m.mu.Unlock()
}

func (m *MockHostDevice) BufferSend(ctx context.Context, cportID uint32, buf []byte, mayBlock bool) (uint64, error) {
	m.mu.Lock()
	if m.FailSend {
		m.mu.Unlock()
		return 0, NewError("BufferSend", ErrCodeTransport, "mock send failure")
	}
	m.nextCookie++
	cookie := m.nextCookie
	m.sendCount++
	deliver := m.Deliver
	m.mu.Unlock()

	if deliver != nil {
		frame := make([]byte, len(buf))
		copy(frame, buf)
		deliver(frame)
	}
	return cookie, nil
}

func (m *MockHostDevice) BufferCancel(cookie uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCount++
	m.cancelled[cookie] = true
}

// Counts returns (allocCount, freeCount, sendCount, cancelCount).
func (m *MockHostDevice) Counts() (alloc, free, send, cancel int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocCount, m.freeCount, m.sendCount, m.cancelCount
}

var _ HostDevice = (*MockHostDevice)(nil)

// MockProtocol is a Protocol implementation driven by a handler map keyed
// by opcode, for unit tests of the receive dispatcher and deferred
// runner.
type MockProtocol struct {
	mu       sync.Mutex
	handlers map[uint8]func(op *Operation)
	calls    map[uint8]int
}

// NewMockProtocol creates a MockProtocol with no handlers registered.
func NewMockProtocol() *MockProtocol {
	return &MockProtocol{
		handlers: make(map[uint8]func(op *Operation)),
		calls:    make(map[uint8]int),
	}
}

// Handle registers fn to run for every incoming request of the given
// opcode. fn is responsible for calling op.Respond/op.SetResult as
// needed; RequestRecv always reports the request as handled once a
// handler is registered.
func (p *MockProtocol) Handle(opcode uint8, fn func(op *Operation)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[opcode] = fn
}

func (p *MockProtocol) RequestRecv(opType uint8, op *Operation) bool {
	p.mu.Lock()
	fn, ok := p.handlers[opType]
	p.calls[opType]++
	p.mu.Unlock()

	if !ok {
		return false
	}
	fn(op)
	return true
}

// CallCount returns how many times RequestRecv was invoked for opcode,
// including calls with no registered handler.
func (p *MockProtocol) CallCount(opcode uint8) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[opcode]
}

var _ Protocol = (*MockProtocol)(nil)
