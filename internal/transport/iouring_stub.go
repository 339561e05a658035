//go:build !iouring

package transport

import (
	"context"
	"errors"
)

// IOURing is the no-op stand-in built when the iouring tag is absent.
// Every method reports that the real transport was not compiled in.
type IOURing struct{}

// NewIOURing always fails in a build without the iouring tag.
func NewIOURing(fd int, entries uint32) (*IOURing, error) {
	return nil, errors.New("transport: built without the iouring tag")
}

func (r *IOURing) SetRecv(fn func(frame []byte)) {}

func (r *IOURing) BufferAlloc(size int, mayBlock bool) ([]byte, error) {
	return nil, errors.New("transport: io_uring unavailable in this build")
}

func (r *IOURing) BufferFree(buf []byte) {}

func (r *IOURing) BufferSend(ctx context.Context, cportID uint32, buf []byte, mayBlock bool) (uint64, error) {
	return 0, errors.New("transport: io_uring unavailable in this build")
}

func (r *IOURing) BufferCancel(cookie uint64) {}

func (r *IOURing) Close() error { return nil }
