//go:build iouring

package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-opmux/internal/wire"
)

// IOURing is a HostDevice backed by a real io_uring instance driving
// async send on a connected stream socket fd. Cookies are the io_uring
// user_data values correlating a submission to its completion.
type IOURing struct {
	fd   int
	ring *giouring.Ring

	mu           sync.Mutex
	nextUserData uint64
	inflight     map[uint64][]byte
	recv         func(frame []byte)

	closeOnce sync.Once
	done      chan struct{}
}

// NewIOURing creates an io_uring-backed transport over an already
// connected stream socket fd, with a submission/completion queue sized
// to entries.
func NewIOURing(fd int, entries uint32) (*IOURing, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("giouring.CreateRing: %w", err)
	}
	return &IOURing{
		fd:       fd,
		ring:     ring,
		inflight: make(map[uint64][]byte),
		done:     make(chan struct{}),
	}, nil
}

// SetRecv registers the frame handler and starts the completion-reaping
// and header-then-payload receive loops.
func (r *IOURing) SetRecv(fn func(frame []byte)) {
	r.mu.Lock()
	r.recv = fn
	r.mu.Unlock()
	go r.completionLoop()
	go r.recvLoop()
}

func (r *IOURing) completionLoop() {
	for {
		select {
		case <-r.done:
			return
		default:
		}
		cqe, err := r.ring.WaitCQE()
		if err != nil {
			continue
		}
		r.mu.Lock()
		delete(r.inflight, cqe.UserData)
		r.mu.Unlock()
		r.ring.SeenCQE(cqe)
	}
}

// recvLoop reads complete frames directly off the socket fd. Inbound
// frames are small and rare enough relative to sends that a blocking
// read loop is simpler and just as correct as routing them through the
// ring; sends are the path that benefits from async submission.
func (r *IOURing) recvLoop() {
	header := make([]byte, wire.HeaderSize)
	for {
		select {
		case <-r.done:
			return
		default:
		}
		if _, err := readFull(r.fd, header); err != nil {
			return
		}
		hdr, err := wire.Unmarshal(header)
		if err != nil {
			return
		}

		frame := make([]byte, hdr.Size)
		copy(frame, header)
		if int(hdr.Size) > wire.HeaderSize {
			if _, err := readFull(r.fd, frame[wire.HeaderSize:]); err != nil {
				return
			}
		}

		r.mu.Lock()
		recv := r.recv
		r.mu.Unlock()
		if recv != nil {
			recv(frame)
		}
	}
}

func readFull(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

func (r *IOURing) BufferAlloc(size int, mayBlock bool) ([]byte, error) {
	return getBuffer(size), nil
}

func (r *IOURing) BufferFree(buf []byte) {
	putBuffer(buf)
}

// BufferSend submits an async send SQE and waits for the ring to accept
// the submission (not for the send itself to complete); the returned
// cookie remains valid in r.inflight until the completion queue reaps it.
func (r *IOURing) BufferSend(ctx context.Context, cportID uint32, buf []byte, mayBlock bool) (uint64, error) {
	r.mu.Lock()
	sqe := r.ring.GetSQE()
	if sqe == nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("io_uring: submission queue full")
	}
	r.nextUserData++
	userData := r.nextUserData
	sqe.PrepareSend(r.fd, buf, 0, 0)
	sqe.UserData = userData
	r.inflight[userData] = buf
	r.mu.Unlock()

	if _, err := r.ring.Submit(); err != nil {
		r.mu.Lock()
		delete(r.inflight, userData)
		r.mu.Unlock()
		return 0, fmt.Errorf("io_uring: submit: %w", err)
	}
	return userData, nil
}

// BufferCancel submits an IORING_OP_ASYNC_CANCEL targeting the original
// submission's user_data.
func (r *IOURing) BufferCancel(cookie uint64) {
	r.mu.Lock()
	sqe := r.ring.GetSQE()
	r.mu.Unlock()
	if sqe == nil {
		return
	}
	sqe.PrepareCancel(cookie, 0)
	r.ring.Submit()
}

// Close tears down the ring and the underlying socket.
func (r *IOURing) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.ring.QueueExit()
		err = unix.Close(r.fd)
	})
	return err
}
