//go:build darwin || freebsd

package netmon

import (
	"fmt"
	"net"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
	"github.com/wesleywu/pfnetmon/internal/kernelfacade"
)

// InterfaceEntry mirrors strongSwan's iface_entry_t: one known kernel
// interface, its index, up/down state, and whether the surrounding
// daemon currently considers it usable for source-address selection.
type InterfaceEntry struct {
	Index  int
	Name   string
	Up     bool
	Usable bool
}

// AddressEntry mirrors strongSwan's addr_entry_t: one address assigned
// to a known interface, and whether this core installed it itself
// (virtual IP) as opposed to discovering it from the kernel.
type AddressEntry struct {
	Address hostaddr.Address
	Virtual bool
}

// addrIndex is the hash-bucketed multimap from address bytes to the
// interfaces carrying that address, grounded on the teacher's
// xxhash-keyed NetworkSet (internal/routing/entities/network_set.go),
// generalized from a set of prefixes to a map of address to owning
// interfaces, matching strongSwan's addr_map_entry_t hashtable.
type addrIndex struct {
	buckets map[uint64][]*addrMapEntry
}

type addrMapEntry struct {
	addr  hostaddr.Address
	iface *InterfaceEntry
}

func newAddrIndex() *addrIndex {
	return &addrIndex{buckets: make(map[uint64][]*addrMapEntry)}
}

func hashAddress(a hostaddr.Address) uint64 {
	return xxhash.Sum64(a.Bytes())
}

func (idx *addrIndex) put(a hostaddr.Address, iface *InterfaceEntry) {
	key := hashAddress(a)
	bucket := idx.buckets[key]
	for _, e := range bucket {
		if e.iface == iface && e.addr.Equal(a) {
			return
		}
	}
	idx.buckets[key] = append(bucket, &addrMapEntry{addr: a, iface: iface})
}

func (idx *addrIndex) remove(a hostaddr.Address, iface *InterfaceEntry) {
	key := hashAddress(a)
	bucket := idx.buckets[key]
	for i, e := range bucket {
		if e.iface == iface && e.addr.Equal(a) {
			idx.buckets[key] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// lookup returns every interface currently carrying address a.
func (idx *addrIndex) lookup(a hostaddr.Address) []*InterfaceEntry {
	key := hashAddress(a)
	var out []*InterfaceEntry
	for _, e := range idx.buckets[key] {
		if e.addr.Equal(a) {
			out = append(out, e.iface)
		}
	}
	return out
}

// cache is the concurrent interface/address view maintained by the
// event dispatcher and queried synchronously by rendezvous operations
// (spec.md §4.3). Its lock is independent of the rendezvous lock
// (spec.md §5): the two are never held at once.
type cache struct {
	mu      sync.RWMutex
	ifaces  map[int]*InterfaceEntry
	byName  map[string]*InterfaceEntry
	addrs   map[int][]*AddressEntry // interface index -> addresses
	index   *addrIndex
	facade  kernelfacade.Facade
}

func newCache(facade kernelfacade.Facade) *cache {
	return &cache{
		ifaces: make(map[int]*InterfaceEntry),
		byName: make(map[string]*InterfaceEntry),
		addrs:  make(map[int][]*AddressEntry),
		index:  newAddrIndex(),
		facade: facade,
	}
}

// populate performs the startup enumeration spec.md §4.3 requires:
// walk every interface the host reports, record its up/down state and
// usability, and index its addresses. It runs once, at construction;
// a single interface is rebuilt after an IF_INFO notification by
// repopulateInterface instead.
func (c *cache) populate() error {
	ifs, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("netmon: enumerating interfaces: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range ifs {
		ifi := &ifs[i]
		entry := &InterfaceEntry{
			Index:  ifi.Index,
			Name:   ifi.Name,
			Up:     ifi.Flags&net.FlagUp != 0,
			Usable: c.facade.IsInterfaceUsable(ifi.Name),
		}
		c.ifaces[entry.Index] = entry
		c.byName[entry.Name] = entry

		for _, addr := range addrsFromInterface(ifi) {
			c.addrs[entry.Index] = append(c.addrs[entry.Index], &AddressEntry{Address: addr})
			c.index.put(addr, entry)
		}
	}
	return nil
}

// addrsFromInterface reads ifi's IPv4/IPv6 addresses via net.Addrs,
// the same kernel enumeration spec.md §4.3's startup population and
// §4.4's IF_INFO repopulation both rely on.
func addrsFromInterface(ifi *net.Interface) []hostaddr.Address {
	ifAddrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	var out []hostaddr.Address
	for _, a := range ifAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, err := hostaddr.FromNetIP(ipNet.IP)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// upsertInterface records a new interface or updates an existing one's
// flags, in response to an IF_INFO message (spec.md §4.4).
func (c *cache) upsertInterface(index int, name string, up bool) *InterfaceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.ifaces[index]
	if !ok {
		entry = &InterfaceEntry{Index: index, Name: name, Usable: c.facade.IsInterfaceUsable(name)}
		c.ifaces[index] = entry
		c.byName[name] = entry
	}
	entry.Up = up
	return entry
}

// addAddress records a as assigned to the interface at index, in
// response to a NEW_ADDR message (spec.md §4.4). It reports whether a
// new AddressEntry was actually appended (false for a duplicate), so
// the dispatcher can decide whether this event warrants a roam
// request. Per Invariant 2, a virtual address never enters the
// address index.
func (c *cache) addAddress(index int, a hostaddr.Address, virtual bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.ifaces[index]
	if !ok {
		return false
	}
	for _, existing := range c.addrs[entry.Index] {
		if existing.Address.Equal(a) {
			return false
		}
	}
	c.addrs[entry.Index] = append(c.addrs[entry.Index], &AddressEntry{Address: a, Virtual: virtual})
	if !virtual {
		c.index.put(a, entry)
	}
	return true
}

// removeAddress drops a from the interface at index, in response to a
// DEL_ADDR message. It reports whether an entry was actually removed
// and whether that entry was virtual, so the dispatcher can apply
// spec.md §4.4's "non-virtual and usable" condition for requesting a
// roam event.
func (c *cache) removeAddress(index int, a hostaddr.Address) (removed, wasVirtual bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.ifaces[index]
	if !ok {
		return false, false
	}
	list := c.addrs[entry.Index]
	for i, existing := range list {
		if !existing.Address.Equal(a) {
			continue
		}
		wasVirtual = existing.Virtual
		if !wasVirtual {
			c.index.remove(a, entry)
		}
		c.addrs[entry.Index] = append(list[:i], list[i+1:]...)
		return true, wasVirtual
	}
	return false, false
}

// interfaceState returns the up/usable flags for the interface at
// index and whether it is known at all, consulted by the dispatcher to
// gate roam requests on spec.md §4.4's "currently up-and-usable"
// condition and its IF_INFO "usable and the UP bit transitioned"
// condition.
func (c *cache) interfaceState(index int) (up, usable, exists bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.ifaces[index]
	if !ok {
		return false, false, false
	}
	return entry.Up, entry.Usable, true
}

// repopulateInterface drops every cached AddressEntry (and AddrIndex
// entry) for the interface at index and rebuilds it from a fresh
// kernel enumeration by name, per spec.md §4.4's "repopulate": BSD
// routing-socket notifications do not reliably enumerate every
// per-address transition across a link flap, so IF_INFO always
// triggers a full rebuild rather than an incremental one. isVirtual
// classifies each freshly read address exactly the way the dispatcher
// classifies a NEW_ADDR (spec.md §4.6's vip.owns check), so a tunnel
// interface that flaps keeps its virtual addresses out of the index.
// Returns the number of addresses rebuilt, for logging.
func (c *cache) repopulateInterface(index int, name string, isVirtual func(hostaddr.Address) bool) int {
	var fresh []hostaddr.Address
	if name != "" {
		if ifi, err := net.InterfaceByName(name); err == nil {
			fresh = addrsFromInterface(ifi)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.ifaces[index]
	if !ok {
		return 0
	}
	for _, old := range c.addrs[entry.Index] {
		if !old.Virtual {
			c.index.remove(old.Address, entry)
		}
	}
	c.addrs[entry.Index] = nil
	for _, a := range fresh {
		virtual := isVirtual(a)
		c.addrs[entry.Index] = append(c.addrs[entry.Index], &AddressEntry{Address: a, Virtual: virtual})
		if !virtual {
			c.index.put(a, entry)
		}
	}
	return len(fresh)
}

// addressPresent reports whether any interface currently carries a,
// virtual or not — the raw cache-membership predicate the virtual-IP
// manager rendezvouses on (spec.md §4.6), as distinct from
// interfaceForAddress's "up and usable" public-query predicate.
func (c *cache) addressPresent(a hostaddr.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, list := range c.addrs {
		for _, entry := range list {
			if entry.Address.Equal(a) {
				return true
			}
		}
	}
	return false
}

// markVirtual marks the AddressEntry equal to a on the interface named
// ifaceName as virtual and removes it from the address index, per
// spec.md §4.6 step 3: "mark any AddressEntry whose IP equals vip as
// virtual (which retroactively removes it from the AddrIndex semantics
// via the filter predicates)".
func (c *cache) markVirtual(ifaceName string, a hostaddr.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byName[ifaceName]
	if !ok {
		return
	}
	for _, addrEntry := range c.addrs[entry.Index] {
		if addrEntry.Address.Equal(a) {
			addrEntry.Virtual = true
			c.index.remove(a, entry)
			return
		}
	}
}

// interfaceForAddress returns the interface name currently carrying a,
// implementing NetMonitor.GetInterface (spec.md §4.3, §6) under the
// "up and usable" predicate: an interface that merely has the UP flag
// (but is not usable) is not a match, even though it would be while
// diagnosing a "not local" verdict in strongSwan's own get_interface.
func (c *cache) interfaceForAddress(a hostaddr.Address) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, iface := range c.index.lookup(a) {
		if iface.Up && iface.Usable {
			return iface.Name, true
		}
	}
	return "", false
}

// AddressMask selects which addresses CreateAddressEnumerator yields,
// mirroring the enumeration bit mask spec.md §6 defines.
type AddressMask uint8

const (
	// MaskUp restricts enumeration to interfaces that are up.
	MaskUp AddressMask = 1 << iota
	// MaskVirtual includes virtual (tunnel) addresses.
	MaskVirtual
	// MaskLoopback includes the loopback interface.
	MaskLoopback
	// MaskSkipUnusable excludes interfaces the kernel facade has
	// blacklisted for IPsec use.
	MaskSkipUnusable
)

// AddressEnumerator walks a consistent snapshot of the cache under a
// held read lock (spec.md §4.3): the enumeration never observes a
// partial update from a concurrent event, at the cost of blocking the
// event dispatcher's writer until Close is called.
type AddressEnumerator struct {
	c       *cache
	entries []enumEntry
	pos     int
	closed  bool
}

type enumEntry struct {
	addr  hostaddr.Address
	iface string
}

// CreateAddressEnumerator snapshots every address matching mask and
// returns an enumerator over it. The cache's read lock is held from
// this call until Close (or Destroy) is invoked on the returned
// enumerator, so callers must not keep it open indefinitely.
func (c *cache) createAddressEnumerator(mask AddressMask) *AddressEnumerator {
	c.mu.RLock()
	e := &AddressEnumerator{c: c}

	for _, iface := range c.ifaces {
		if mask&MaskUp != 0 && !iface.Up {
			continue
		}
		if mask&MaskSkipUnusable != 0 && !iface.Usable {
			continue
		}
		if mask&MaskLoopback == 0 && iface.Name != "" && isLoopbackName(iface.Name) {
			continue
		}
		for _, addr := range c.addrs[iface.Index] {
			if addr.Virtual && mask&MaskVirtual == 0 {
				continue
			}
			if addr.Address.IsLinkLocalV6() {
				continue
			}
			e.entries = append(e.entries, enumEntry{addr: addr.Address, iface: iface.Name})
		}
	}
	return e
}

// resolveInterfaceName looks up an interface name by kernel index for
// messages that name an interface the cache has not seen before.
func resolveInterfaceName(index int) string {
	ifi, err := net.InterfaceByIndex(index)
	if err != nil {
		return ""
	}
	return ifi.Name
}

func isLoopbackName(name string) bool {
	return len(name) >= 2 && name[:2] == "lo"
}

// Next advances the enumerator and reports whether an entry follows.
func (e *AddressEnumerator) Next() bool {
	if e.closed || e.pos >= len(e.entries) {
		return false
	}
	e.pos++
	return true
}

// Address returns the current entry's address. Valid only after Next
// returns true.
func (e *AddressEnumerator) Address() hostaddr.Address {
	return e.entries[e.pos-1].addr
}

// Interface returns the current entry's owning interface name.
func (e *AddressEnumerator) Interface() string {
	return e.entries[e.pos-1].iface
}

// Close releases the cache read lock this enumerator has been
// holding. It is idempotent.
func (e *AddressEnumerator) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.c.mu.RUnlock()
}

// Destroy is an alias for Close, matching the spec.md §6 naming of
// the enumerator's terminal operation.
func (e *AddressEnumerator) Destroy() {
	e.Close()
}
