//go:build darwin || freebsd

package netmon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// routeSocket is the raw AF_ROUTE transport (spec.md §4.1), grounded
// on the teacher's BSDRouteManager socket setup
// (internal/routing/platform/bsd.go) and monitor.go's socket
// lifecycle, generalized to support the "no reader goroutine" mode a
// synchronous-only embedder can request.
type routeSocket struct {
	fd  int
	pid int32
}

func openRouteSocket() (*routeSocket, error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, fmt.Errorf("%w: opening routing socket: %v", ErrTransport, err)
	}
	return &routeSocket{fd: fd, pid: int32(os.Getpid())}, nil
}

func (s *routeSocket) write(buf []byte) error {
	if _, err := unix.Write(s.fd, buf); err != nil {
		return fmt.Errorf("%w: writing routing socket: %v", ErrTransport, err)
	}
	return nil
}

func (s *routeSocket) read(buf []byte) (int, error) {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// stopReading half-closes the socket for reads, unblocking a pending
// Read in the dispatcher's reader task without destroying the fd —
// spec.md §5's replacement for the original's thread-cancellability
// toggle.
func (s *routeSocket) stopReading() error {
	return unix.Shutdown(s.fd, unix.SHUT_RD)
}

func (s *routeSocket) close() error {
	return unix.Close(s.fd)
}
