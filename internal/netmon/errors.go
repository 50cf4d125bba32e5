package netmon

import "errors"

// Sentinel errors, matching the taxonomy spec.md §7 defines. Callers
// use errors.Is against these; concrete errors returned by this
// package wrap one of them with context via fmt.Errorf's %w.
var (
	// ErrTransport indicates a failure in the underlying routing
	// socket itself (open, write, or a read that did not return EINTR).
	ErrTransport = errors.New("netmon: transport error")

	// ErrProtocol indicates a kernel message this core could not parse
	// or that violated an expected invariant (oversized record, short
	// header). Protocol errors are logged and dropped, never fatal.
	ErrProtocol = errors.New("netmon: protocol error")

	// ErrTimeout indicates a synchronous query's rendezvous wait
	// expired before a matching reply arrived.
	ErrTimeout = errors.New("netmon: query timed out")

	// ErrNotFound indicates a query had no answer (no route, no
	// interface, no address) rather than failing.
	ErrNotFound = errors.New("netmon: not found")

	// ErrFailed is a catch-all for lower-level failures (e.g. a route-get
	// reply carrying a nonzero errno, or a tunnel device that could not
	// be created, brought up or assigned its address in AddIP). A failed
	// routing-socket write, as in AddRoute, wraps ErrTransport instead.
	ErrFailed = errors.New("netmon: operation failed")

	// ErrUnsupportedPlatform indicates this core was built for or is
	// running on a platform without a routing-socket transport.
	ErrUnsupportedPlatform = errors.New("netmon: unsupported platform")
)
