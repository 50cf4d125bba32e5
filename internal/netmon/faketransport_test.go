//go:build darwin || freebsd

package netmon

import (
	"sync"

	"golang.org/x/sys/unix"
)

// fakeTransport is an in-memory stand-in for the real AF_ROUTE socket,
// letting scenario tests drive NetMonitor's event dispatcher and query
// path without a kernel routing socket. Writes are captured for
// assertions; inbound messages are injected with deliver, which wakes
// a blocked read exactly once per call.
type fakeTransport struct {
	mu      sync.Mutex
	inbox   [][]byte
	written [][]byte
	closed  bool
	cond    *sync.Cond
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *fakeTransport) write(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), buf...)
	f.written = append(f.written, cp)
	return nil
}

// read blocks until deliver is called or the transport is closed,
// mirroring the blocking unix.Read the real transport performs.
func (f *fakeTransport) read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.inbox) == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.closed {
		return 0, unix.EBADF
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	n := copy(buf, msg)
	return n, nil
}

func (f *fakeTransport) stopReading() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
	return nil
}

func (f *fakeTransport) close() error {
	return f.stopReading()
}

// deliver injects an inbound message for the reader task to pick up.
func (f *fakeTransport) deliver(buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, buf)
	f.cond.Broadcast()
}

// lastWrite returns the most recently written outbound message, or nil.
func (f *fakeTransport) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.written) == 0 {
		return nil
	}
	return f.written[len(f.written)-1]
}

var _ transport = (*fakeTransport)(nil)
