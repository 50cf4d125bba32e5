//go:build !darwin && !freebsd

package netmon

import "fmt"

// routeSocket stubs the AF_ROUTE transport on platforms this core
// does not run on — spec.md's non-goals explicitly exclude Linux
// netlink, so there is no alternate transport to wire in here, only a
// clear failure at open time.
type routeSocket struct{}

func openRouteSocket() (*routeSocket, error) {
	return nil, fmt.Errorf("%w: routing sockets are not supported on this platform", ErrUnsupportedPlatform)
}

func (s *routeSocket) write(buf []byte) error { return ErrUnsupportedPlatform }

func (s *routeSocket) read(buf []byte) (int, error) { return 0, ErrUnsupportedPlatform }

func (s *routeSocket) stopReading() error { return ErrUnsupportedPlatform }

func (s *routeSocket) close() error { return nil }
