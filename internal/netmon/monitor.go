//go:build darwin || freebsd

package netmon

import (
	"fmt"
	"sync"
	"time"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
	"github.com/wesleywu/pfnetmon/internal/kernelfacade"
	"github.com/wesleywu/pfnetmon/internal/logger"
	"github.com/wesleywu/pfnetmon/internal/metrics"
	"github.com/wesleywu/pfnetmon/internal/scheduler"
	"github.com/wesleywu/pfnetmon/internal/tundevice"
)

// Features reports capability flags a caller needs before it can
// decide how to drive this core, per spec.md §6's get_features.
type Features struct {
	// RequiresExcludeRoute is true on the BSD routing-socket backend:
	// unlike a policy-routing kernel backend, this transport cannot
	// distinguish IPsec-bound traffic from the rest, so the daemon
	// must install its own exclude route around the tunnel's remote
	// endpoint.
	RequiresExcludeRoute bool
}

// Options configures a NetMonitor at construction.
type Options struct {
	// Facade is the upstream kernel facade collaborator (spec.md §6).
	// A nil Facade defaults to kernelfacade.NewAllowAll().
	Facade kernelfacade.Facade
	// Driver allocates tunnel devices for AddIP. A nil Driver defaults
	// to tundevice.NewDriver() (the platform-native implementation).
	Driver tundevice.Driver
	// Pool is the shared goroutine pool the reader task and roam
	// callbacks run on. A nil Pool creates a small dedicated one.
	Pool *scheduler.Pool
	// Logger receives structured diagnostics. A nil Logger defaults to
	// logger.New("error"), which writes error-level entries to stdout.
	Logger *logger.Logger
	// Metrics collects operational counters. A nil Metrics creates a
	// fresh, unshared instance.
	Metrics *metrics.Metrics
	// WithoutReader, when true, never starts the dispatcher's reader
	// task and half-closes the socket's read side immediately after
	// opening — spec.md §4.1's "mode without worker threads". Only
	// synchronous sends (AddRoute/DelRoute) remain usable.
	WithoutReader bool

	// transport, when non-nil, replaces the real AF_ROUTE socket.
	// Unexported: only this package's own tests substitute a fake.
	transport transport
}

// NetMonitor is the daemon's authoritative view of, and control
// channel for, the host's network-layer configuration (spec.md §1-2):
// interface/address cache, routing-socket transport, query rendezvous,
// virtual-IP manager, and roam debouncer, composed behind one object.
type NetMonitor struct {
	sock   transport
	cache  *cache
	rendez *rendezvous
	vip    *vipManager
	roam   *roamDebouncer

	facade   kernelfacade.Facade
	pool     *scheduler.Pool
	sched    *scheduler.Scheduler
	ownsPool bool
	logger   *logger.Logger
	metrics  *metrics.Metrics

	done chan struct{}

	mu      sync.Mutex
	started bool
}

// NewNetMonitor opens the routing socket, performs the startup
// interface/address enumeration (spec.md §4.3), and — unless
// Options.WithoutReader is set — submits the event dispatcher's reader
// task to the shared pool (spec.md §4.4).
func NewNetMonitor(opts Options) (*NetMonitor, error) {
	facade := opts.Facade
	if facade == nil {
		facade = kernelfacade.NewAllowAll()
	}
	driver := opts.Driver
	if driver == nil {
		driver = tundevice.NewDriver()
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("error")
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.New()
	}

	pool := opts.Pool
	ownsPool := false
	if pool == nil {
		var err error
		pool, err = scheduler.NewPool(4)
		if err != nil {
			return nil, fmt.Errorf("netmon: creating scheduler pool: %w", err)
		}
		ownsPool = true
	}

	sock := opts.transport
	if sock == nil {
		var err error
		sock, err = openRouteSocket()
		if err != nil {
			return nil, err
		}
	}

	c := newCache(facade)
	if err := c.populate(); err != nil {
		sock.close()
		if ownsPool {
			pool.Release()
		}
		return nil, err
	}

	m := &NetMonitor{
		sock:     sock,
		cache:    c,
		rendez:   newRendezvous(),
		facade:   facade,
		pool:     pool,
		sched:    scheduler.NewScheduler(pool),
		ownsPool: ownsPool,
		logger:   log,
		metrics:  met,
		done:     make(chan struct{}),
	}
	m.vip = newVipManager(m, driver)
	m.roam = newRoamDebouncer()

	if opts.WithoutReader {
		if err := sock.stopReading(); err != nil {
			sock.close()
			if ownsPool {
				pool.Release()
			}
			return nil, fmt.Errorf("%w: half-closing read side: %v", ErrTransport, err)
		}
		return m, nil
	}

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	if err := m.pool.Submit(m.runReader); err != nil {
		sock.close()
		if ownsPool {
			pool.Release()
		}
		return nil, fmt.Errorf("netmon: submitting reader task: %w", err)
	}
	return m, nil
}

// Features implements the public get_features operation (spec.md §6).
func (m *NetMonitor) Features() Features {
	return Features{RequiresExcludeRoute: true}
}

// GetInterface implements the public get_interface operation (spec.md
// §4.3): it returns the owning interface's name for ip under the
// "up and usable" predicate only.
func (m *NetMonitor) GetInterface(ip hostaddr.Address) (name string, found bool) {
	return m.cache.interfaceForAddress(ip)
}

// CreateAddressEnumerator implements the public operation of the same
// name (spec.md §4.3, §6): it returns an enumerator holding the
// cache's read lock until Close/Destroy is called on it.
func (m *NetMonitor) CreateAddressEnumerator(mask AddressMask) *AddressEnumerator {
	return m.cache.createAddressEnumerator(mask)
}

// GetSourceAddr implements the public get_source_addr operation
// (spec.md §6): a route-get query asking for the source address the
// kernel would select for dest, optionally hinting a preferred source
// via srcHint, which is threaded into the request's interface-address
// slot exactly as the original's get_route does unconditionally
// (spec.md §4.5 step 1).
func (m *NetMonitor) GetSourceAddr(dest hostaddr.Address, srcHint *hostaddr.Address) (hostaddr.Address, bool) {
	start := time.Now()
	_, source, _, err := m.getRoute(dest, srcHint, true)
	if err != nil {
		m.metrics.RecordQuery(time.Since(start), false)
		return hostaddr.Address{}, false
	}
	m.metrics.RecordQuery(time.Since(start), true)
	return source, true
}

// GetNexthop implements the public get_nexthop operation (spec.md
// §6): a route-get query asking for the gateway (or cloned host route)
// the kernel would use to reach dest.
func (m *NetMonitor) GetNexthop(dest hostaddr.Address, srcHint *hostaddr.Address) (hostaddr.Address, bool) {
	start := time.Now()
	gateway, _, _, err := m.getRoute(dest, srcHint, false)
	if err != nil {
		m.metrics.RecordQuery(time.Since(start), false)
		return hostaddr.Address{}, false
	}
	m.metrics.RecordQuery(time.Since(start), true)
	return gateway, true
}

// AddRoute implements the public add_route operation (spec.md §4.5,
// §6), splitting a default route (prefix 0) into two /1 halves.
func (m *NetMonitor) AddRoute(dst hostaddr.Address, prefix int, gateway *hostaddr.Address, src *hostaddr.Address, ifName string) error {
	return m.modifyRoute(true, dst, prefix, gateway, src, ifName)
}

// DelRoute implements the public del_route operation.
func (m *NetMonitor) DelRoute(dst hostaddr.Address, prefix int, gateway *hostaddr.Address, src *hostaddr.Address, ifName string) error {
	return m.modifyRoute(false, dst, prefix, gateway, src, ifName)
}

// Destroy implements the public destroy operation: it stops the
// reader task, closes the routing socket, tears down any remaining
// virtual IPs, and releases the pool if this NetMonitor created it.
func (m *NetMonitor) Destroy() error {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()

	close(m.done)
	if started {
		_ = m.sock.stopReading()
	}
	m.vip.destroyAll()

	var err error
	if cerr := m.sock.close(); cerr != nil {
		err = cerr
	}
	if m.ownsPool {
		m.pool.Release()
	}
	return err
}
