package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ehrlich-b/go-opmux/internal/wire"
)

func TestLoopbackRoundTrip(t *testing.T) {
	a, b, err := NewLoopbackPair()
	if err != nil {
		t.Fatalf("NewLoopbackPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	received := make(chan []byte, 1)
	b.SetRecv(func(frame []byte) { received <- frame })
	a.SetRecv(func(frame []byte) {})

	h := wire.Header{Size: wire.HeaderSize + 2, OperationID: 1, Type: wire.RequestType(0x01)}
	frame := make([]byte, h.Size)
	if err := wire.Marshal(frame, h); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	frame[wire.HeaderSize] = 0xAA
	frame[wire.HeaderSize+1] = 0xBB

	if _, err := a.BufferSend(context.Background(), 0, frame, true); err != nil {
		t.Fatalf("BufferSend: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != len(frame) {
			t.Fatalf("received %d bytes, want %d", len(got), len(frame))
		}
		for i := range frame {
			if got[i] != frame[i] {
				t.Fatalf("byte %d mismatch: got %#x, want %#x", i, got[i], frame[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatal("frame never arrived")
	}
}

func TestBufferAllocFreeRoundTrip(t *testing.T) {
	a, b, err := NewLoopbackPair()
	if err != nil {
		t.Fatalf("NewLoopbackPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	buf, err := a.BufferAlloc(4096, true)
	if err != nil {
		t.Fatalf("BufferAlloc: %v", err)
	}
	if len(buf) != 4096 {
		t.Errorf("len(buf) = %d, want 4096", len(buf))
	}
	a.BufferFree(buf)
}
