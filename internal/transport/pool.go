// Package transport provides HostDevice implementations: a loopback pair
// for tests and an io_uring-backed transport for production use.
package transport

import (
	"sync"

	"github.com/ehrlich-b/go-opmux/internal/constants"
)

// Buffer pool bucket sizes. Frames here are bounded by a few kilobytes
// (header + payload), unlike a block-device I/O payload, so the pool only
// needs to cover DefaultMaxFrameSize and a couple of multiples of it.
const (
	size1k = constants.PoolBucket1K
	size4k = constants.PoolBucket4K
	size8k = constants.PoolBucket8K
)

// pool is the shared, size-bucketed buffer pool backing BufferAlloc for
// transports in this package. Uses the pointer-to-slice pattern to avoid
// sync.Pool's interface-boxing allocation on the hot path.
var pool = struct {
	p1k sync.Pool
	p4k sync.Pool
	p8k sync.Pool
}{
	p1k: sync.Pool{New: func() any { b := make([]byte, size1k); return &b }},
	p4k: sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	p8k: sync.Pool{New: func() any { b := make([]byte, size8k); return &b }},
}

// getBuffer returns a zeroed buffer of exactly size bytes, backed by a
// pooled allocation of the smallest bucket that fits. Sizes larger than
// the largest bucket fall back to a direct allocation.
func getBuffer(size int) []byte {
	var buf []byte
	switch {
	case size <= size1k:
		buf = (*pool.p1k.Get().(*[]byte))[:size]
	case size <= size4k:
		buf = (*pool.p4k.Get().(*[]byte))[:size]
	case size <= size8k:
		buf = (*pool.p8k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// putBuffer returns a buffer obtained from getBuffer to its bucket. A
// buffer whose capacity does not match a bucket exactly (the
// direct-allocation fallback) is simply dropped for GC.
func putBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size1k:
		pool.p1k.Put(&buf)
	case size4k:
		pool.p4k.Put(&buf)
	case size8k:
		pool.p8k.Put(&buf)
	}
}
