//go:build darwin || freebsd

package netmon

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
)

// readBufferSize is sized generously above any single routing-socket
// message; the kernel never fragments one across multiple reads.
const readBufferSize = 4096

// receiveRetryDelay is how long the reader task backs off after a
// transport error it cannot identify as a benign interruption, before
// resubmitting itself to the pool (spec.md §4.4's receive-error policy).
const receiveRetryDelay = 250 * time.Millisecond

// runReader is the event dispatcher's reader task, submitted to the
// shared goroutine pool (spec.md §4.4), generalizing the teacher's
// monitor_unix.go readRouteSocket loop from "forward raw bytes" to
// "decode, update the cache, deliver rendezvous replies, debounce
// roam notifications".
func (m *NetMonitor) runReader() {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-m.done:
			return
		default:
		}

		n, err := m.sock.read(buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if isShutdownError(err) {
				return
			}
			m.logger.ProtocolDropped("transport read error: "+err.Error(), 0)
			m.metrics.RecordTransportRetry()
			time.Sleep(receiveRetryDelay)
			if err := m.resubmitReader(); err != nil {
				m.logger.ProtocolDropped("failed to resubmit reader: "+err.Error(), 0)
			}
			return
		}
		if n < minMessageLen {
			continue
		}
		m.handleMessage(buf[:n])
	}
}

func (m *NetMonitor) resubmitReader() error {
	return m.pool.Submit(m.runReader)
}

func isShutdownError(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.ECONNRESET)
}

// handleMessage decodes one routing-socket message and routes it to
// the cache, the rendezvous, or both, per spec.md §4.4.
func (m *NetMonitor) handleMessage(buf []byte) {
	hdr, err := peekHeader(buf)
	if err != nil {
		m.logger.ProtocolDropped(err.Error(), 0)
		m.metrics.RecordProtocolDrop()
		return
	}

	switch hdr.msgtype {
	case rtmAdd, rtmDelete, rtmGet:
		rt, tail, err := parseRouteMsg(buf)
		if err != nil {
			m.logger.ProtocolDropped(err.Error(), hdr.msgtype)
			m.metrics.RecordProtocolDrop()
			return
		}
		m.rendez.deliver(rt, tail)

	case rtmNewaddr, rtmDeladdr:
		m.processAddr(buf, hdr.msgtype)

	case rtmIfinfo:
		m.processLink(buf)

	default:
		// Every other message type is validated-but-ignored: this core
		// reports route changes to nothing, per spec.md's non-goal of
		// route-change interpretation.
	}

	// Every message, matched or not, wakes rendezvous waiters so that
	// virtual-IP installers blocked on a cache predicate (rather than a
	// sequence number) get a chance to re-check it, per spec.md §4.4's
	// final paragraph.
	m.rendez.wake()
}

// processAddr updates the cache from a NEW_ADDR/DEL_ADDR message and,
// per spec.md §4.4, requests a roam event only when the message
// actually changed the cache on an interface that is currently
// up-and-usable (DEL_ADDR additionally requires the removed entry to
// have been non-virtual).
func (m *NetMonitor) processAddr(buf []byte, msgtype uint8) {
	hdr, tail, err := parseAddrMsg(buf)
	if err != nil {
		m.logger.ProtocolDropped(err.Error(), msgtype)
		m.metrics.RecordProtocolDrop()
		return
	}

	it := newSockaddrIter(hdr.addrs, tail)
	var addr hostaddr.Address
	found := false
	for {
		slot, raw, ok := it.Next()
		if !ok {
			break
		}
		if slot == slotIfa {
			a, perr := hostaddr.FromSockaddr(raw)
			if perr != nil {
				continue
			}
			addr = a
			found = true
			break
		}
	}
	if !found {
		return
	}

	virtual := m.vip.owns(addr)
	changed := false
	switch msgtype {
	case rtmNewaddr:
		changed = m.cache.addAddress(int(hdr.index), addr, virtual)
		m.logger.AddressEvent("add", m.cache.nameForIndex(int(hdr.index)), addr.String(), virtual)
	case rtmDeladdr:
		removed, wasVirtual := m.cache.removeAddress(int(hdr.index), addr)
		changed = removed && !wasVirtual
		m.logger.AddressEvent("remove", m.cache.nameForIndex(int(hdr.index)), addr.String(), wasVirtual)
	}

	if !changed {
		return
	}
	up, usable, _ := m.cache.interfaceState(int(hdr.index))
	if up && usable {
		m.scheduleRoam(!addr.IsLinkLocalV6())
	}
}

// processLink updates the cache's interface table from an IF_INFO
// message, per spec.md §4.4: compares old/new UP flags before
// overwriting them (requesting a roam event when a usable interface's
// UP bit transitioned in either direction), then unconditionally
// repopulates the reported interface's addresses — not every
// interface, and not only on the up direction — since BSD routing-
// socket notifications do not reliably enumerate every per-address
// transition across a link flap.
func (m *NetMonitor) processLink(buf []byte) {
	hdr, _, err := parseIfMsg(buf)
	if err != nil {
		m.logger.ProtocolDropped(err.Error(), rtmIfinfo)
		m.metrics.RecordProtocolDrop()
		return
	}

	up := hdr.flags&iffUp != 0
	index := int(hdr.index)
	name := m.cache.nameForIndex(index)
	if name == "" {
		m.logger.ProtocolDropped("IF_INFO for unresolvable interface index", rtmIfinfo)
		return
	}

	oldUp, oldUsable, existed := m.cache.interfaceState(index)
	entry := m.cache.upsertInterface(index, name, up)

	repopulated := m.cache.repopulateInterface(entry.Index, entry.Name, m.vip.owns)
	m.logger.InterfaceEvent(entry.Name, up, repopulated)

	if existed && oldUsable && oldUp != up {
		m.scheduleRoam(false)
	}
}

// nameForIndex resolves an interface index to its name using
// net.InterfaceByIndex when the cache has not yet recorded it.
func (c *cache) nameForIndex(index int) string {
	c.mu.RLock()
	if entry, ok := c.ifaces[index]; ok {
		name := entry.Name
		c.mu.RUnlock()
		return name
	}
	c.mu.RUnlock()
	return resolveInterfaceName(index)
}
