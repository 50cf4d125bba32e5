//go:build darwin || freebsd

package netmon

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
)

// queryTimeout bounds how long a synchronous query waits for the
// dispatcher to deliver a matching reply, per spec.md §4.5.
const queryTimeout = 5 * time.Second

// rendezvous serializes synchronous routing-socket queries against the
// asynchronous event stream (spec.md §4.5, Invariant 4). Its lock is
// independent of the cache's lock (spec.md §5): a goroutine never
// holds both at once.
type rendezvous struct {
	mu          sync.Mutex
	cond        *sync.Cond
	waitingSeq  int32
	reply       *rtMsghdr
	replyTail   []byte
	replyErrno  int32
	haveReply   bool
	seqCounter  int32
}

func newRendezvous() *rendezvous {
	r := &rendezvous{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// nextSeq allocates the next outbound sequence number.
func (r *rendezvous) nextSeq() int32 {
	return atomic.AddInt32(&r.seqCounter, 1)
}

// deliver is called by the dispatcher for every message read off the
// transport. If its sequence number matches the one a query is
// currently waiting for, the message is recorded and every waiter is
// woken; otherwise it is a no-op. Exactly one query may be pending at
// a time, matching strongSwan's single waiting_seq field.
func (r *rendezvous) deliver(hdr *rtMsghdr, tail []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hdr.seq != r.waitingSeq || r.waitingSeq == 0 {
		return
	}
	r.reply = hdr
	r.replyTail = tail
	r.replyErrno = hdr.errno
	r.haveReply = true
	r.cond.Broadcast()
}

// query sends req over the transport and blocks until a reply with
// the request's sequence number arrives or queryTimeout elapses. Only
// one query may be in flight at a time (Invariant 4): a caller whose
// predecessor's sequence is still outstanding waits on the condition
// variable before publishing its own (spec.md §4.5 steps 2-3), rather
// than clobbering waitingSeq out from under it.
func (r *rendezvous) query(sock transport, req []byte, seq int32) (*rtMsghdr, []byte, error) {
	r.mu.Lock()
	for r.waitingSeq != 0 {
		r.cond.Wait()
	}
	r.waitingSeq = seq
	r.haveReply = false
	r.reply = nil
	r.replyTail = nil
	r.mu.Unlock()

	if err := sock.write(req); err != nil {
		r.mu.Lock()
		r.waitingSeq = 0
		r.cond.Broadcast()
		r.mu.Unlock()
		return nil, nil, err
	}

	deadline := time.Now().Add(queryTimeout)
	r.mu.Lock()
	defer func() {
		r.waitingSeq = 0
		r.cond.Broadcast()
		r.mu.Unlock()
	}()
	for !r.haveReply {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil, fmt.Errorf("%w: seq %d", ErrTimeout, seq)
		}
		waited := waitWithTimeout(r.cond, remaining)
		if !waited && !r.haveReply {
			return nil, nil, fmt.Errorf("%w: seq %d", ErrTimeout, seq)
		}
	}
	hdr, tail := r.reply, r.replyTail
	if hdr.errno != 0 {
		return hdr, tail, fmt.Errorf("%w: kernel returned errno %d", ErrFailed, hdr.errno)
	}
	return hdr, tail, nil
}

// sendAsync writes req without taking the rendezvous mutex and
// without awaiting any reply, per spec.md §4.1 ("fire-and-forget
// writes (route add/delete) do not require it") and §4.5's route
// add/delete description: the kernel's in-band error on the write
// itself is the only signal this path relies on, the same way the
// original's manage_route only checks the send() return value.
func (r *rendezvous) sendAsync(sock transport, req []byte) error {
	return sock.write(req)
}

// wake broadcasts the condition variable unconditionally, so waiters
// checking a cache predicate (virtual-IP install/uninstall) rather
// than a delivered sequence number get to re-evaluate it after every
// inbound message (spec.md §4.4's last paragraph).
func (r *rendezvous) wake() {
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

// waitPredicate blocks, holding r's mutex across the wait exactly like
// query does, until pred() returns true or timeout elapses. Used by
// the virtual-IP manager to rendezvous with the dispatcher over cache
// membership rather than a reply sequence number (spec.md §4.6).
func (r *rendezvous) waitPredicate(timeout time.Duration, pred func() bool) bool {
	deadline := time.Now().Add(timeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	for !pred() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		waitWithTimeout(r.cond, remaining)
	}
	return true
}

// waitWithTimeout wakes the calling goroutine either when cond is
// signaled or after d elapses, returning false on the timeout path.
// sync.Cond has no native timed wait, so a timer nudges it after d;
// this is the same trick strongSwan relies on via
// pthread_cond_timedwait, reimplemented on top of Go's cond. The
// caller must hold cond.L, exactly as cond.Wait requires.
func waitWithTimeout(cond *sync.Cond, d time.Duration) bool {
	var timedOut int32
	timer := time.AfterFunc(d, func() {
		atomic.StoreInt32(&timedOut, 1)
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
	return atomic.LoadInt32(&timedOut) == 0
}

// getRoute issues a GET query for dest and parses the kernel's answer
// into a gateway/source/interface triple, per spec.md §4.5 step 1: the
// request always carries an interface-address slot set to srcHint (or
// the family's wildcard address if unspecified), the same way the
// original's get_route unconditionally calls
// add_rt_addr(&msg.hdr, RTA_IFA, src). When wantSource is true (i.e.
// the caller is not asking for a nexthop), an empty link-layer slot is
// additionally included to force the kernel to resolve and report a
// source address rather than a next hop.
func (m *NetMonitor) getRoute(dest hostaddr.Address, srcHint *hostaddr.Address, wantSource bool) (gateway hostaddr.Address, source hostaddr.Address, ifName string, err error) {
	seq := m.rendez.nextSeq()
	req := newRequest(rtmGet, rtfUp, int32(os.Getpid()), seq)
	req.setSlot(slotDst, dest.Sockaddr())
	mask := hostaddr.PrefixNetmask(dest.Family(), dest.Family().MaxPrefixLen())
	req.setSlot(slotNetmask, mask.Sockaddr())
	ifa := hostaddr.Zero(dest.Family())
	if srcHint != nil {
		ifa = *srcHint
	}
	req.setSlot(slotIfa, ifa.Sockaddr())
	if wantSource {
		req.setSlot(slotIfp, buildEmptyLinkLayerName())
	}

	hdr, tail, err := m.rendez.query(m.sock, req.build(), seq)
	if err != nil {
		return hostaddr.Address{}, hostaddr.Address{}, "", err
	}

	var dst hostaddr.Address
	it := newSockaddrIter(hdr.addrs, tail)
	for {
		slot, raw, ok := it.Next()
		if !ok {
			break
		}
		switch slot {
		case slotDst:
			if a, perr := hostaddr.FromSockaddr(raw); perr == nil {
				dst = a
			}
		case slotGateway:
			if a, perr := hostaddr.FromSockaddr(raw); perr == nil {
				gateway = a
			}
		case slotIfa:
			if a, perr := hostaddr.FromSockaddr(raw); perr == nil {
				source = a
			}
		}
	}

	// want_nexthop=true with no gateway slot but RTF_HOST set means the
	// kernel answered with a cloned direct route to dest itself (spec.md
	// §4.5 step 6's "destination slot with the host-route flag set"),
	// matching the original's
	// `if (nexthop && type == RTAX_DST && rtm_flags & RTF_HOST)` branch.
	if !wantSource && gateway.IsZero() && hdr.flags&rtfHost != 0 && !dst.IsZero() {
		gateway = dst
	}

	m.cache.mu.RLock()
	if entry, ok := m.cache.ifaces[int(hdr.index)]; ok {
		ifName = entry.Name
	}
	m.cache.mu.RUnlock()

	if gateway.IsZero() && source.IsZero() {
		return hostaddr.Address{}, hostaddr.Address{}, "", fmt.Errorf("%w: no route to %s", ErrNotFound, dest)
	}
	return gateway, source, ifName, nil
}

// modifyRoute issues an ADD or DELETE for dst/prefix via gateway,
// implementing the add_route/del_route split spec.md §4.5 describes:
// a default route (prefix 0) is installed as two /1 halves
// straddling the address space's midpoint, since the kernel refuses a
// literal 0.0.0.0/0 alongside an existing default (scenario S6).
func (m *NetMonitor) modifyRoute(add bool, dst hostaddr.Address, prefix int, gateway *hostaddr.Address, src *hostaddr.Address, ifName string) error {
	if prefix == 0 {
		lower, upper := splitDefaultRoute(dst.Family())
		if err := m.modifyRouteSingle(add, lower.addr, lower.prefix, gateway, src, ifName); err != nil {
			return err
		}
		return m.modifyRouteSingle(add, upper.addr, upper.prefix, gateway, src, ifName)
	}
	return m.modifyRouteSingle(add, dst, prefix, gateway, src, ifName)
}

type routeHalf struct {
	addr   hostaddr.Address
	prefix int
}

// splitDefaultRoute returns the two /1 halves covering the whole
// address space for family, grounded on strongSwan's upper/lower half
// trick for installing a default route without displacing the
// system's own default (kernel_pfroute_net.c's add_route for
// dst.is_anyaddr()).
func splitDefaultRoute(family hostaddr.Family) (lower, upper routeHalf) {
	zero := hostaddr.Zero(family)
	half := hostaddr.UpperHalf(family)
	return routeHalf{addr: zero, prefix: 1}, routeHalf{addr: half, prefix: 1}
}

func (m *NetMonitor) modifyRouteSingle(add bool, dst hostaddr.Address, prefix int, gateway *hostaddr.Address, src *hostaddr.Address, ifName string) error {
	seq := m.rendez.nextSeq()
	msgType := uint8(rtmDelete)
	flags := int32(rtfStatic)
	if add {
		msgType = rtmAdd
		flags |= rtfUp
	}
	if gateway != nil {
		flags |= rtfGateway
	}
	if prefix == dst.Family().MaxPrefixLen() {
		flags |= rtfHost
	}

	req := newRequest(msgType, flags, int32(os.Getpid()), seq)
	req.setSlot(slotDst, dst.Sockaddr())
	if gateway != nil {
		req.setSlot(slotGateway, gateway.Sockaddr())
	}
	if prefix != dst.Family().MaxPrefixLen() {
		mask := hostaddr.PrefixNetmask(dst.Family(), prefix)
		req.setSlot(slotNetmask, mask.Sockaddr())
	}
	if ifName != "" {
		req.setSlot(slotIfp, buildLinkLayerName(ifName))
	}
	if src != nil {
		req.setSlot(slotIfa, src.Sockaddr())
	}

	return m.rendez.sendAsync(m.sock, req.build())
}
