//go:build darwin || freebsd

package netmon

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Routing-socket message types this core consumes and emits, grounded
// on the teacher's RTM_* constants (internal/routing/bsd_native.go),
// generalized from "emit only" to "parse and emit".
const (
	rtmAdd     = 0x1
	rtmDelete  = 0x2
	rtmGet     = 0x4
	rtmNewaddr = 0xc
	rtmDeladdr = 0xd
	rtmIfinfo  = 0xe
)

// Route flags (teacher's RTF_* constants, trimmed to what this core sets).
const (
	rtfUp      = 0x1
	rtfGateway = 0x2
	rtfHost    = 0x4
	rtfStatic  = 0x800
)

// Interface flags this core inspects (netdevice(7) SIOCGIFFLAGS subset).
const (
	iffUp       = 0x1
	iffLoopback = 0x8
)

// Socket-address slot indices, per spec.md §4.2's convention. RTAX_MAX
// bounds the iterator's bit scan.
const (
	slotDst     = 0
	slotGateway = 1
	slotNetmask = 2
	slotGenmask = 3
	slotIfp     = 4
	slotIfa     = 5
	slotAuthor  = 6
	slotBrd     = 7
	slotMax     = 8
)

// rtMsghdr is the route-message header shape (ADD/DELETE/GET), reused
// verbatim from the teacher's internal/routing/bsd_native.go.
type rtMsghdr struct {
	msglen  uint16
	version uint8
	msgtype uint8
	hdrlen  uint16
	index   uint16
	flags   int32
	addrs   int32
	pid     int32
	seq     int32
	errno   int32
	use     int32
	inits   uint32
	rmx     rtMetrics
}

type rtMetrics struct {
	locks    uint32
	mtu      uint32
	hopcount uint32
	expire   int32
	recvpipe uint32
	sendpipe uint32
	ssthresh uint32
	rtt      uint32
	rttvar   uint32
	pksent   uint32
	weight   uint32
	filler   [3]uint32
}

// ifaMsghdr is the address-message header shape (NEW_ADDR/DEL_ADDR),
// generalizing the teacher's route-only header to the shape spec.md
// §4.2 requires for inbound address notifications.
type ifaMsghdr struct {
	msglen  uint16
	version uint8
	msgtype uint8
	index   uint16
	_       uint16
	addrs   int32
	flags   int32
	metric  int32
}

// ifMsghdr is the interface-message header shape (IF_INFO).
type ifMsghdr struct {
	msglen  uint16
	version uint8
	msgtype uint8
	index   uint16
	_       uint16
	addrs   int32
	flags   int32
	data    ifData
}

// ifData mirrors the trailing if_data block of a real if_msghdr; none
// of its fields are consulted, it only needs to occupy the space the
// kernel's hdrlen expects before the variable sockaddr tail begins.
type ifData struct {
	kind        uint8
	physical    uint8
	addrlen     uint8
	hdrlen      uint8
	recvquality uint8
	xmitquality uint8
	unused1     uint8
	_           uint8
	mtu         uint32
	metric      uint32
	baudrate    uint32
	counters    [13]uint64
	recvtiming  uint32
	xmittiming  uint32
	lastchange  [2]int64
}

func roundUp(size int) int {
	return (size + 3) &^ 3
}

// header is the minimal common prefix every routing-socket message
// shares (spec.md §4.2): total length, version, and type. It is always
// safe to read from the first 4 bytes of any message.
type header struct {
	msglen  uint16
	version uint8
	msgtype uint8
}

const minMessageLen = 4

func peekHeader(buf []byte) (header, error) {
	if len(buf) < minMessageLen {
		return header{}, fmt.Errorf("netmon: message shorter than minimum header (%d bytes)", len(buf))
	}
	h := header{
		msglen:  *(*uint16)(unsafe.Pointer(&buf[0])),
		version: buf[2],
		msgtype: buf[3],
	}
	if int(h.msglen) > len(buf) {
		return header{}, fmt.Errorf("netmon: message shorter than declared length (declared %d, have %d)", h.msglen, len(buf))
	}
	return h, nil
}

// sockaddrIter is the lazy, restartable iterator over a message's
// variable tail of socket-address records (spec.md §4.2, Testable
// Property 7). It walks the addrs bitfield from bit 0 upward and
// refuses to read past the buffer it was given.
type sockaddrIter struct {
	addrs int32
	slot  int
	buf   []byte
}

func newSockaddrIter(addrs int32, tail []byte) *sockaddrIter {
	return &sockaddrIter{addrs: addrs, buf: tail}
}

// Next returns the next enabled slot and its raw sockaddr bytes, in
// ascending slot order. It stops (ok=false) once every enabled slot
// has been consumed, the buffer runs out, or a record claims a length
// longer than what remains.
func (it *sockaddrIter) Next() (slot int, raw []byte, ok bool) {
	for it.slot < slotMax {
		bit := it.slot
		it.slot++
		if it.addrs&(1<<uint(bit)) == 0 {
			continue
		}
		if len(it.buf) < 1 {
			return 0, nil, false
		}
		salen := int(it.buf[0])
		if salen == 0 {
			// A zero-length sockaddr still occupies one alignment unit.
			salen = 4
		}
		if salen > len(it.buf) {
			return 0, nil, false
		}
		raw = it.buf[:salen]
		adv := roundUp(salen)
		if adv > len(it.buf) {
			adv = len(it.buf)
		}
		it.buf = it.buf[adv:]
		return bit, raw, true
	}
	return 0, nil, false
}

// parseRouteMsg parses an ADD/DELETE/GET header and returns it along
// with the raw tail of socket-address records.
func parseRouteMsg(buf []byte) (*rtMsghdr, []byte, error) {
	hdrSize := int(unsafe.Sizeof(rtMsghdr{}))
	if len(buf) < hdrSize {
		return nil, nil, fmt.Errorf("netmon: route message shorter than header (%d bytes)", len(buf))
	}
	hdr := (*rtMsghdr)(unsafe.Pointer(&buf[0]))
	if int(hdr.msglen) > len(buf) {
		return nil, nil, fmt.Errorf("netmon: route message shorter than declared length")
	}
	return hdr, buf[hdr.hdrlen:hdr.msglen], nil
}

// parseAddrMsg parses a NEW_ADDR/DEL_ADDR header and its tail.
func parseAddrMsg(buf []byte) (*ifaMsghdr, []byte, error) {
	hdrSize := int(unsafe.Sizeof(ifaMsghdr{}))
	if len(buf) < hdrSize {
		return nil, nil, fmt.Errorf("netmon: address message shorter than header (%d bytes)", len(buf))
	}
	hdr := (*ifaMsghdr)(unsafe.Pointer(&buf[0]))
	if int(hdr.msglen) > len(buf) || int(hdr.msglen) < hdrSize {
		return nil, nil, fmt.Errorf("netmon: address message shorter than declared length")
	}
	return hdr, buf[hdrSize:hdr.msglen], nil
}

// parseIfMsg parses an IF_INFO header and its tail.
func parseIfMsg(buf []byte) (*ifMsghdr, []byte, error) {
	hdrSize := int(unsafe.Sizeof(ifMsghdr{}))
	if len(buf) < hdrSize {
		return nil, nil, fmt.Errorf("netmon: interface message shorter than header (%d bytes)", len(buf))
	}
	hdr := (*ifMsghdr)(unsafe.Pointer(&buf[0]))
	if int(hdr.msglen) > len(buf) || int(hdr.msglen) < hdrSize {
		return nil, nil, fmt.Errorf("netmon: interface message shorter than declared length")
	}
	return hdr, buf[hdrSize:hdr.msglen], nil
}

// requestBuilder assembles an outbound ADD/DELETE/GET request,
// appending socket-address records slot-by-slot in ascending index
// order and updating the addrs bitfield and total length as it goes —
// generalized from the teacher's sendRouteMessage, which hardcoded the
// dst/gateway/netmask triple, to the full slot table spec.md §4.2
// names (dst, gateway, netmask, link-layer name, interface address).
type requestBuilder struct {
	msgtype uint8
	flags   int32
	pid     int32
	seq     int32
	slots   [slotMax][]byte
}

func newRequest(msgtype uint8, flags, pid, seq int32) *requestBuilder {
	return &requestBuilder{msgtype: msgtype, flags: flags, pid: pid, seq: seq}
}

func (b *requestBuilder) setSlot(slot int, raw []byte) {
	b.slots[slot] = raw
}

// build renders the final wire message.
func (b *requestBuilder) build() []byte {
	var addrs int32
	hdrSize := int(unsafe.Sizeof(rtMsghdr{}))
	total := hdrSize
	for i := 0; i < slotMax; i++ {
		if b.slots[i] != nil {
			addrs |= 1 << uint(i)
			total += roundUp(len(b.slots[i]))
		}
	}

	buf := make([]byte, total)
	hdr := (*rtMsghdr)(unsafe.Pointer(&buf[0]))
	hdr.msglen = uint16(total)
	hdr.version = unix.RTM_VERSION
	hdr.msgtype = b.msgtype
	hdr.hdrlen = uint16(hdrSize)
	hdr.flags = b.flags
	hdr.addrs = addrs
	hdr.pid = b.pid
	hdr.seq = b.seq

	offset := hdrSize
	for i := 0; i < slotMax; i++ {
		if b.slots[i] == nil {
			continue
		}
		copy(buf[offset:], b.slots[i])
		offset += roundUp(len(b.slots[i]))
	}
	return buf
}

// buildLinkLayerName encodes name into a sockaddr_dl record, used for
// the interface slot of route ADD/DELETE requests that name an
// interface.
func buildLinkLayerName(name string) []byte {
	const hdrLen = 8 // sdl_len, sdl_family, sdl_index(2), sdl_type, sdl_nlen, sdl_alen, sdl_slen
	n := len(name)
	raw := make([]byte, roundUp(hdrLen+n))
	raw[0] = byte(hdrLen + n)
	raw[1] = unix.AF_LINK
	raw[5] = byte(n)
	copy(raw[hdrLen:], name)
	return raw
}

// buildEmptyLinkLayerName encodes an sockaddr_dl record that names no
// interface (sdl_nlen=0) — per spec.md §4.5, placing this in the
// interface slot forces the kernel to resolve and return a source
// address rather than a gateway.
func buildEmptyLinkLayerName() []byte {
	raw := make([]byte, 4)
	raw[0] = 4
	raw[1] = unix.AF_LINK
	return raw
}
