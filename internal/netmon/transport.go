package netmon

// transport is the routing-socket collaborator NetMonitor drives: the
// reader task (spec.md §4.4) reads from it, synchronous queries
// (spec.md §4.5) write to it, and Destroy half-closes then closes it.
// Factoring this out of the concrete *routeSocket lets tests substitute
// an in-memory fake that never touches AF_ROUTE.
type transport interface {
	write(buf []byte) error
	read(buf []byte) (int, error)
	stopReading() error
	close() error
}
