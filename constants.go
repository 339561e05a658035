package opmux

import (
	"time"

	"github.com/ehrlich-b/go-opmux/internal/constants"
)

// Re-exported wire and sizing constants for the public API.
const (
	HeaderSize          = constants.HeaderSize
	DefaultMaxFrameSize = constants.DefaultMaxFrameSize
	ResponseBit         = constants.ResponseBit
)

// DefaultOperationTimeout is how long Submit waits for a response before
// completing the operation with ErrCodeTimeout, unless overridden per
// connection via ConnectionParams.OperationTimeout.
const DefaultOperationTimeout time.Duration = constants.DefaultOperationTimeout
