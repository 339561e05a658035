// Package opmux provides an operation multiplexer over a framed,
// bidirectional byte-stream transport: a Connection submits outgoing
// operations and dispatches incoming ones, correlating each by a 16-bit
// wrapping id, with per-operation timeouts and a deferred runner that
// keeps transport receive paths free of user code.
package opmux

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-opmux/internal/pending"
	"github.com/ehrlich-b/go-opmux/internal/runner"
)

// defaultRunnerQueueDepth bounds how many deferred jobs (completions and
// incoming-request handlers) may be queued on a connection's runner
// before Recv blocks waiting for room.
const defaultRunnerQueueDepth = 256

// ConnectionParams configures a Connection.
type ConnectionParams struct {
	// ID identifies this connection in logs and structured errors.
	ID uint32

	// Device is the host-device transport collaborator. Required.
	Device HostDevice

	// Protocol interprets incoming request types. May be nil, in which
	// case every incoming request completes with ErrCodeProtocolBad.
	Protocol Protocol

	// CPortID is the transport-layer address of the remote endpoint.
	CPortID uint32

	// MaxFrameSize bounds header+payload for any single frame.
	MaxFrameSize int

	// OperationTimeout is how long Submit waits for a response before
	// firing ErrCodeTimeout.
	OperationTimeout time.Duration
}

// DefaultConnectionParams returns ConnectionParams with the package's
// default frame size and operation timeout.
func DefaultConnectionParams(id uint32, device HostDevice) ConnectionParams {
	return ConnectionParams{
		ID:               id,
		Device:           device,
		MaxFrameSize:     DefaultMaxFrameSize,
		OperationTimeout: DefaultOperationTimeout,
	}
}

// Options carries cross-cutting collaborators for NewConnection.
type Options struct {
	// Logger for debug/info/warn/error messages (if nil, logging is a
	// no-op).
	Logger Logger

	// Observer for lifecycle metrics (if nil, uses a no-op observer).
	Observer Observer
}

// Connection is a logical channel to a remote endpoint: the operations
// and pending lists, the id counter, and the enabled/disabled state the
// core reads and writes.
type Connection struct {
	id           uint32
	device       HostDevice
	protocol     Protocol
	cportID      uint32
	maxFrameSize int
	opTimeout    time.Duration

	logger   Logger
	observer Observer

	pending *pending.Table
	runner  *runner.Runner

	enabled   atomic.Bool
	closeOnce sync.Once
}

// NewConnection constructs a Connection in the enabled state and starts
// its deferred completion runner.
func NewConnection(params ConnectionParams, opts *Options) (*Connection, error) {
	if params.Device == nil {
		return nil, NewConnError("NewConnection", params.ID, ErrCodeNotConnected, "device must not be nil")
	}
	if opts == nil {
		opts = &Options{}
	}

	maxFrameSize := params.MaxFrameSize
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	opTimeout := params.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = DefaultOperationTimeout
	}

	var observer Observer = NoOpObserver{}
	if opts.Observer != nil {
		observer = opts.Observer
	}

	c := &Connection{
		id:           params.ID,
		device:       params.Device,
		protocol:     params.Protocol,
		cportID:      params.CPortID,
		maxFrameSize: maxFrameSize,
		opTimeout:    opTimeout,
		logger:       opts.Logger,
		observer:     observer,
		pending:      pending.NewTable(),
		runner:       runner.New(defaultRunnerQueueDepth),
	}
	c.enabled.Store(true)
	c.runner.Start()
	return c, nil
}

// Enabled reports whether the connection currently accepts Submit calls
// and inbound frames.
func (c *Connection) Enabled() bool {
	return c.enabled.Load()
}

// Disable marks the connection as disabled; Submit subsequently fails
// fast with ErrCodeNotConnected and Recv drops incoming frames. Already
// in-flight operations are not cancelled, but since their responses are
// dropped too, they complete through their timeouts.
func (c *Connection) Disable() {
	c.enabled.Store(false)
}

// ID returns the connection's identifier.
func (c *Connection) ID() uint32 { return c.id }

// PendingCount returns the number of operations currently awaiting a
// response. Intended for tests and diagnostics.
func (c *Connection) PendingCount() int {
	return c.pending.PendingCount()
}

// Close disables the connection and stops its deferred completion
// runner, waiting for any job already in flight to finish. Close does
// not cancel or release outstanding operations; callers must do so
// before or after Close as their lifecycle requires.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.enabled.Store(false)
		c.runner.Stop()
	})
	return nil
}

func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debugf(format, args...)
	}
}
