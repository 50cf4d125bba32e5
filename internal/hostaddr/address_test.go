package hostaddr

import (
	"net"
	"testing"
)

func TestFromNetIPPicksNarrowestFamily(t *testing.T) {
	a, err := FromNetIP(net.ParseIP("192.0.2.1"))
	if err != nil {
		t.Fatalf("FromNetIP: %v", err)
	}
	if a.Family() != IPv4 || len(a.Bytes()) != 4 {
		t.Errorf("got family %v, %d bytes; want IPv4/4", a.Family(), len(a.Bytes()))
	}

	b, err := FromNetIP(net.ParseIP("2001:db8::1"))
	if err != nil {
		t.Fatalf("FromNetIP: %v", err)
	}
	if b.Family() != IPv6 || len(b.Bytes()) != 16 {
		t.Errorf("got family %v, %d bytes; want IPv6/16", b.Family(), len(b.Bytes()))
	}
}

func TestSockaddrRoundTrip(t *testing.T) {
	for _, ip := range []string{"192.0.2.1", "2001:db8::1"} {
		a, err := FromNetIP(net.ParseIP(ip))
		if err != nil {
			t.Fatalf("FromNetIP(%s): %v", ip, err)
		}
		sa := a.Sockaddr()
		back, err := FromSockaddr(sa)
		if err != nil {
			t.Fatalf("FromSockaddr round trip for %s: %v", ip, err)
		}
		if !back.Equal(a) {
			t.Errorf("round trip mismatch for %s: got %s", ip, back)
		}
	}
}

func TestFromSockaddrRejectsTruncated(t *testing.T) {
	if _, err := FromSockaddr([]byte{4, byte(IPv4)}); err == nil {
		t.Error("expected error on truncated sockaddr_in")
	}
	if _, err := FromSockaddr(nil); err == nil {
		t.Error("expected error on empty input")
	}
}

func TestEqual(t *testing.T) {
	a, _ := FromNetIP(net.ParseIP("10.0.0.1"))
	b, _ := FromNetIP(net.ParseIP("10.0.0.1"))
	c, _ := FromNetIP(net.ParseIP("10.0.0.2"))
	if !a.Equal(b) {
		t.Error("expected equal addresses to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected different addresses to compare unequal")
	}
}

func TestIsZero(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Error("expected default Address to be zero")
	}
	a, _ := FromNetIP(net.ParseIP("10.0.0.1"))
	if a.IsZero() {
		t.Error("expected parsed Address to not be zero")
	}
}

func TestIsLinkLocalV6(t *testing.T) {
	ll, _ := FromNetIP(net.ParseIP("fe80::1"))
	if !ll.IsLinkLocalV6() {
		t.Error("expected fe80::1 to be link-local")
	}
	global, _ := FromNetIP(net.ParseIP("2001:db8::1"))
	if global.IsLinkLocalV6() {
		t.Error("expected global address to not be link-local")
	}
	v4, _ := FromNetIP(net.ParseIP("169.254.1.1"))
	if v4.IsLinkLocalV6() {
		t.Error("IsLinkLocalV6 must be false for IPv4 addresses")
	}
}

func TestPrefixNetmask(t *testing.T) {
	mask := PrefixNetmask(IPv4, 24)
	want := net.IPv4(255, 255, 255, 0).To4()
	if !net.IP(mask.Bytes()).Equal(want) {
		t.Errorf("got mask %v, want %v", mask.Bytes(), want)
	}

	full := PrefixNetmask(IPv4, 32)
	if !net.IP(full.Bytes()).Equal(net.IPv4(255, 255, 255, 255).To4()) {
		t.Errorf("expected /32 mask to be all ones, got %v", full.Bytes())
	}
}

func TestUpperHalfAndZero(t *testing.T) {
	z := Zero(IPv4)
	if !z.NetIP().Equal(net.IPv4zero.To4()) {
		t.Errorf("Zero(IPv4) = %v, want 0.0.0.0", z)
	}
	upper := UpperHalf(IPv4)
	if !upper.NetIP().Equal(net.IPv4(128, 0, 0, 0).To4()) {
		t.Errorf("UpperHalf(IPv4) = %v, want 128.0.0.0", upper)
	}
}

func TestMaxPrefixLen(t *testing.T) {
	if IPv4.MaxPrefixLen() != 32 {
		t.Errorf("IPv4.MaxPrefixLen() = %d, want 32", IPv4.MaxPrefixLen())
	}
	if IPv6.MaxPrefixLen() != 128 {
		t.Errorf("IPv6.MaxPrefixLen() = %d, want 128", IPv6.MaxPrefixLen())
	}
}
