//go:build darwin || freebsd

package netmon

import (
	"net"
	"testing"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
)

func TestSockaddrIterWalksEnabledSlotsInOrder(t *testing.T) {
	dst, _ := hostaddr.FromNetIP(net.ParseIP("192.0.2.1"))
	gw, _ := hostaddr.FromNetIP(net.ParseIP("192.0.2.254"))

	var tail []byte
	tail = append(tail, dst.Sockaddr()...)
	tail = append(tail, gw.Sockaddr()...)

	addrs := int32(1<<slotDst | 1<<slotGateway)
	it := newSockaddrIter(addrs, tail)

	slot, raw, ok := it.Next()
	if !ok || slot != slotDst {
		t.Fatalf("first slot = %d, ok=%v; want slotDst", slot, ok)
	}
	got, err := hostaddr.FromSockaddr(raw)
	if err != nil || !got.Equal(dst) {
		t.Errorf("first record = %v (err %v), want %v", got, err, dst)
	}

	slot, raw, ok = it.Next()
	if !ok || slot != slotGateway {
		t.Fatalf("second slot = %d, ok=%v; want slotGateway", slot, ok)
	}
	got, err = hostaddr.FromSockaddr(raw)
	if err != nil || !got.Equal(gw) {
		t.Errorf("second record = %v (err %v), want %v", got, err, gw)
	}

	if _, _, ok := it.Next(); ok {
		t.Error("expected iterator to be exhausted")
	}
}

func TestSockaddrIterStopsOnTruncatedBuffer(t *testing.T) {
	// Claims slotDst is present but the buffer is empty.
	it := newSockaddrIter(1<<slotDst, nil)
	if _, _, ok := it.Next(); ok {
		t.Error("expected iterator to refuse to read past an empty buffer")
	}
}

func TestSockaddrIterSkipsDisabledSlots(t *testing.T) {
	gw, _ := hostaddr.FromNetIP(net.ParseIP("192.0.2.254"))
	it := newSockaddrIter(1<<slotGateway, gw.Sockaddr())
	slot, _, ok := it.Next()
	if !ok || slot != slotGateway {
		t.Fatalf("slot = %d, ok = %v; want slotGateway only", slot, ok)
	}
}

func TestRequestBuilderRoundTrip(t *testing.T) {
	dst, _ := hostaddr.FromNetIP(net.ParseIP("192.0.2.1"))
	gw, _ := hostaddr.FromNetIP(net.ParseIP("192.0.2.254"))

	req := newRequest(rtmAdd, rtfUp|rtfGateway, 1234, 7)
	req.setSlot(slotDst, dst.Sockaddr())
	req.setSlot(slotGateway, gw.Sockaddr())
	buf := req.build()

	hdr, tail, err := parseRouteMsg(buf)
	if err != nil {
		t.Fatalf("parseRouteMsg: %v", err)
	}
	if hdr.msgtype != rtmAdd {
		t.Errorf("msgtype = %d, want rtmAdd", hdr.msgtype)
	}
	if hdr.pid != 1234 || hdr.seq != 7 {
		t.Errorf("pid/seq = %d/%d, want 1234/7", hdr.pid, hdr.seq)
	}
	if hdr.flags&rtfGateway == 0 {
		t.Error("expected rtfGateway flag to round-trip")
	}

	it := newSockaddrIter(hdr.addrs, tail)
	seen := map[int]hostaddr.Address{}
	for {
		slot, raw, ok := it.Next()
		if !ok {
			break
		}
		a, err := hostaddr.FromSockaddr(raw)
		if err != nil {
			t.Fatalf("FromSockaddr(slot %d): %v", slot, err)
		}
		seen[slot] = a
	}
	if !seen[slotDst].Equal(dst) {
		t.Errorf("dst slot = %v, want %v", seen[slotDst], dst)
	}
	if !seen[slotGateway].Equal(gw) {
		t.Errorf("gateway slot = %v, want %v", seen[slotGateway], gw)
	}
}

func TestBuildLinkLayerName(t *testing.T) {
	raw := buildLinkLayerName("en0")
	if raw[0] != byte(8+len("en0")) {
		t.Errorf("sdl_len = %d, want %d", raw[0], 8+len("en0"))
	}
	if raw[5] != byte(len("en0")) {
		t.Errorf("sdl_nlen = %d, want %d", raw[5], len("en0"))
	}
	if string(raw[8:8+len("en0")]) != "en0" {
		t.Errorf("embedded name = %q, want %q", raw[8:], "en0")
	}
}

func TestBuildEmptyLinkLayerName(t *testing.T) {
	raw := buildEmptyLinkLayerName()
	if len(raw) != 4 {
		t.Fatalf("len = %d, want 4", len(raw))
	}
	if raw[0] != 4 {
		t.Errorf("sdl_len = %d, want 4", raw[0])
	}
}

func TestPeekHeaderRejectsShortBuffers(t *testing.T) {
	if _, err := peekHeader([]byte{1, 2}); err == nil {
		t.Error("expected error for buffer shorter than minimum header")
	}
	if _, err := peekHeader([]byte{0, 0, 0, 0}); err != nil {
		t.Errorf("unexpected error for minimal valid header: %v", err)
	}
}

func TestPeekHeaderRejectsShortDeclaredLength(t *testing.T) {
	// Declares a message length (256, little-endian) far beyond the
	// 4 bytes actually supplied.
	buf := []byte{0x00, 0x01, 0, 0}
	if _, err := peekHeader(buf); err == nil {
		t.Error("expected error when declared length exceeds buffer")
	}
}

func TestRoundUp(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8}
	for in, want := range cases {
		if got := roundUp(in); got != want {
			t.Errorf("roundUp(%d) = %d, want %d", in, got, want)
		}
	}
}
