//go:build integration

// Package integration exercises go-opmux end to end over a real
// transport (an AF_UNIX socketpair), rather than the MockHostDevice used
// by the package-level unit tests.
package integration

import (
	"context"
	"testing"
	"time"

	opmux "github.com/ehrlich-b/go-opmux"
	"github.com/ehrlich-b/go-opmux/backend/echo"
	"github.com/ehrlich-b/go-opmux/internal/transport"
)

func newLoopbackConnections(t *testing.T, protocol opmux.Protocol, opTimeout time.Duration) (*opmux.Connection, *opmux.Connection) {
	t.Helper()
	clientDev, serverDev, err := transport.NewLoopbackPair()
	if err != nil {
		t.Fatalf("NewLoopbackPair: %v", err)
	}
	t.Cleanup(func() { clientDev.Close(); serverDev.Close() })

	clientParams := opmux.DefaultConnectionParams(1, clientDev)
	clientParams.OperationTimeout = opTimeout
	client, err := opmux.NewConnection(clientParams, &opmux.Options{})
	if err != nil {
		t.Fatalf("NewConnection(client): %v", err)
	}
	t.Cleanup(func() { client.Close() })

	serverParams := opmux.DefaultConnectionParams(2, serverDev)
	serverParams.Protocol = protocol
	serverParams.OperationTimeout = opTimeout
	server, err := opmux.NewConnection(serverParams, &opmux.Options{})
	if err != nil {
		t.Fatalf("NewConnection(server): %v", err)
	}
	t.Cleanup(func() { server.Close() })

	clientDev.SetRecv(client.Recv)
	serverDev.SetRecv(server.Recv)
	return client, server
}

// TestIntegrationHappyPathSynchronous is scenario S1: a synchronous
// submit whose response round-trips over a real socket transport.
func TestIntegrationHappyPathSynchronous(t *testing.T) {
	proto := echo.New()
	client, _ := newLoopbackConnections(t, proto, time.Second)

	op, err := opmux.NewOperation(client, echo.OpType, 2, 2)
	if err != nil {
		t.Fatalf("NewOperation: %v", err)
	}
	defer op.Release()
	copy(op.RequestPayload(), []byte{0xAA, 0xBB})

	if err := op.Submit(context.Background(), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if op.Err() != nil {
		t.Fatalf("Err() = %v, want nil", op.Err())
	}
	if op.Result() != echo.ResultOK {
		t.Errorf("Result() = %d, want %d", op.Result(), echo.ResultOK)
	}
	if got := op.ResponsePayload(); len(got) != 2 || got[0] != 0xAA || got[1] != 0xBB {
		t.Errorf("ResponsePayload() = %v, want [0xAA 0xBB]", got)
	}
	if n := client.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0 after completion", n)
	}
}

// TestIntegrationTimeout is scenario S2: no protocol handler is
// registered on the server side, so the connection's peer never sends a
// response and the client's own timeout must fire.
func TestIntegrationTimeout(t *testing.T) {
	client, _ := newLoopbackConnections(t, nil, 100*time.Millisecond)

	op, err := opmux.NewOperation(client, 0x02, 0, 1)
	if err != nil {
		t.Fatalf("NewOperation: %v", err)
	}
	defer op.Release()

	err = op.Submit(context.Background(), nil)
	if !opmux.IsCode(err, opmux.ErrCodeTimeout) {
		t.Fatalf("Submit err = %v, want ErrCodeTimeout", err)
	}
}

// TestIntegrationRequestHandled is scenario S4: an incoming request is
// dispatched to a registered protocol handler running on the server's
// deferred completion runner, and the response flows back to the client.
func TestIntegrationRequestHandled(t *testing.T) {
	proto := echo.New()
	client, _ := newLoopbackConnections(t, proto, time.Second)

	op, err := opmux.NewOperation(client, echo.OpType, 3, 3)
	if err != nil {
		t.Fatalf("NewOperation: %v", err)
	}
	defer op.Release()
	copy(op.RequestPayload(), []byte("hey"))

	if err := op.Submit(context.Background(), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if proto.Handled() != 1 {
		t.Errorf("Handled() = %d, want 1", proto.Handled())
	}
	if string(op.ResponsePayload()) != "hey" {
		t.Errorf("ResponsePayload() = %q, want %q", op.ResponsePayload(), "hey")
	}
}

// TestIntegrationNoHandlerIsProtocolBad is scenario S5: an incoming
// request with no registered handler completes locally on the server
// side with ProtocolBad. The client never sees a response and times out
// independently, since the handler-less server side never replies.
func TestIntegrationNoHandlerIsProtocolBad(t *testing.T) {
	client, _ := newLoopbackConnections(t, nil, 100*time.Millisecond)

	op, err := opmux.NewOperation(client, 0x09, 1, 1)
	if err != nil {
		t.Fatalf("NewOperation: %v", err)
	}
	defer op.Release()
	op.RequestPayload()[0] = 0x01

	err = op.Submit(context.Background(), nil)
	if !opmux.IsCode(err, opmux.ErrCodeTimeout) {
		t.Fatalf("Submit err = %v, want ErrCodeTimeout (peer never responds)", err)
	}
}

// TestIntegrationInterruptedWait is scenario S6: a context cancellation
// during wait must not block on a response that never arrives; Submit
// returns ErrCodeInterrupted instead.
func TestIntegrationInterruptedWait(t *testing.T) {
	client, _ := newLoopbackConnections(t, nil, 5*time.Second)

	op, err := opmux.NewOperation(client, 0x05, 0, 1)
	if err != nil {
		t.Fatalf("NewOperation: %v", err)
	}
	defer op.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = op.Submit(ctx, nil)
	if !opmux.IsCode(err, opmux.ErrCodeInterrupted) {
		t.Fatalf("Submit err = %v, want ErrCodeInterrupted", err)
	}
}
