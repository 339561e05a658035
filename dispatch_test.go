package opmux

import (
	"testing"
	"time"

	"github.com/ehrlich-b/go-opmux/internal/wire"
)

func buildRequestFrame(id uint16, opcode uint8, payload []byte) []byte {
	h := wire.Header{
		Size:        uint16(wire.HeaderSize + len(payload)),
		OperationID: id,
		Type:        wire.RequestType(opcode),
	}
	frame := make([]byte, h.Size)
	_ = wire.Marshal(frame, h)
	copy(frame[wire.HeaderSize:], payload)
	return frame
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

// S4 — incoming request handled by a registered protocol handler.
func TestRecvIncomingRequestHandled(t *testing.T) {
	device := NewMockHostDevice()
	proto := NewMockProtocol()
	metrics := NewMetrics()

	handled := make(chan struct{})
	proto.Handle(0x03, func(op *Operation) {
		defer close(handled)
		if err := op.Respond(1); err != nil {
			t.Errorf("Respond: %v", err)
			return
		}
		copy(op.ResponsePayload(), []byte{0x00})
	})

	params := DefaultConnectionParams(1, device)
	params.Protocol = proto
	conn, err := NewConnection(params, &Options{Observer: NewMetricsObserver(metrics)})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.Recv(buildRequestFrame(0x4242, 0x03, []byte{0x01, 0x02}))

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}

	waitForCondition(t, time.Second, func() bool {
		_, _, sendCount, _ := device.Counts()
		return sendCount > 0
	})
	waitForCondition(t, time.Second, func() bool {
		return metrics.Snapshot().Completes == 1
	})
	if metrics.Snapshot().ProtocolBads != 0 {
		t.Errorf("ProtocolBads = %d, want 0", metrics.Snapshot().ProtocolBads)
	}
}

// S5 — incoming request with no registered handler.
func TestRecvIncomingRequestNoHandler(t *testing.T) {
	device := NewMockHostDevice()
	metrics := NewMetrics()

	params := DefaultConnectionParams(1, device)
	conn, err := NewConnection(params, &Options{Observer: NewMetricsObserver(metrics)})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.Recv(buildRequestFrame(7, 0x09, nil))

	waitForCondition(t, time.Second, func() bool {
		return metrics.Snapshot().ProtocolBads == 1
	})
	if metrics.Snapshot().Completes != 1 {
		t.Errorf("Completes = %d, want 1", metrics.Snapshot().Completes)
	}
}

func TestRecvDropsShortFrame(t *testing.T) {
	device := NewMockHostDevice()
	conn := newTestConnection(t, device, nil)
	conn.Recv([]byte{1, 2, 3})
	if conn.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", conn.PendingCount())
	}
}

func TestRecvDropsResponseForUnknownID(t *testing.T) {
	device := NewMockHostDevice()
	conn := newTestConnection(t, device, nil)
	conn.Recv(buildResponseFrame(999, 0x01, 0, []byte{0, 0, 0, 0}))
	if conn.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", conn.PendingCount())
	}
}

func TestRecvDropsWhenDisabled(t *testing.T) {
	device := NewMockHostDevice()
	conn := newTestConnection(t, device, nil)
	conn.Disable()
	conn.Recv(buildRequestFrame(1, 0x01, nil))
	if conn.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", conn.PendingCount())
	}
}
