package transport

import (
	"context"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-opmux/internal/wire"
)

// Loopback is a HostDevice backed by one end of an AF_UNIX socketpair. It
// is the stand-in host-device transport for tests and the demo binary:
// buffer_send writes a frame to the socket, and a background goroutine
// reads frames off the other end and hands them to a registered receive
// function (wired to a peer Connection's Recv).
type Loopback struct {
	file *os.File

	mu         sync.Mutex
	recv       func(frame []byte)
	nextCookie uint64

	closeOnce sync.Once
}

// NewLoopbackPair creates two Loopback transports connected by a
// socketpair, one per side of a simulated connection.
func NewLoopbackPair() (a, b *Loopback, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return newLoopback(fds[0]), newLoopback(fds[1]), nil
}

func newLoopback(fd int) *Loopback {
	return &Loopback{file: os.NewFile(uintptr(fd), "opmux-loopback")}
}

// SetRecv registers the function invoked with each complete frame read
// off the socket, and starts the background read loop. Call once, before
// any traffic is expected.
func (l *Loopback) SetRecv(fn func(frame []byte)) {
	l.mu.Lock()
	l.recv = fn
	l.mu.Unlock()
	go l.readLoop()
}

func (l *Loopback) readLoop() {
	header := make([]byte, wire.HeaderSize)
	for {
		if _, err := io.ReadFull(l.file, header); err != nil {
			return
		}
		hdr, err := wire.Unmarshal(header)
		if err != nil {
			return
		}

		frame := make([]byte, hdr.Size)
		copy(frame, header)
		if int(hdr.Size) > wire.HeaderSize {
			if _, err := io.ReadFull(l.file, frame[wire.HeaderSize:]); err != nil {
				return
			}
		}

		l.mu.Lock()
		recv := l.recv
		l.mu.Unlock()
		if recv != nil {
			recv(frame)
		}
	}
}

// BufferAlloc returns a pooled, zeroed buffer.
func (l *Loopback) BufferAlloc(size int, mayBlock bool) ([]byte, error) {
	return getBuffer(size), nil
}

// BufferFree returns buf to the pool.
func (l *Loopback) BufferFree(buf []byte) {
	putBuffer(buf)
}

// BufferSend writes the frame to the socket synchronously and returns an
// incrementing cookie. A stream socket has no notion of recalling bytes
// already written, so the cookie is bookkeeping only.
func (l *Loopback) BufferSend(ctx context.Context, cportID uint32, buf []byte, mayBlock bool) (uint64, error) {
	l.mu.Lock()
	l.nextCookie++
	cookie := l.nextCookie
	l.mu.Unlock()

	if _, err := l.file.Write(buf); err != nil {
		return 0, err
	}
	return cookie, nil
}

// BufferCancel is a best-effort no-op: once written to the socket, a
// frame cannot be recalled.
func (l *Loopback) BufferCancel(cookie uint64) {}

// Close closes the underlying socket, ending the read loop.
func (l *Loopback) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.file.Close()
	})
	return err
}
