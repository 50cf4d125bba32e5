// Package hostaddr is the host address abstraction used throughout
// pfnetmon: an IP address value that knows its family, its raw byte
// form, and how to render itself as a family-sized BSD sockaddr for
// the routing socket wire protocol.
package hostaddr

import (
	"fmt"
	"net"
)

// Family identifies the address family of a host address.
type Family uint8

const (
	// IPv4 addresses are 4 bytes and serialize as sockaddr_in.
	IPv4 Family = 2 // AF_INET on BSD
	// IPv6 addresses are 16 bytes and serialize as sockaddr_in6.
	IPv6 Family = 30 // AF_INET6 on BSD (darwin value)
)

// Address is an immutable host IP value.
type Address struct {
	family Family
	bytes  []byte
}

// FromNetIP builds an Address from a net.IP, picking the narrowest
// family representation (4-byte form for an IPv4-mapped address).
func FromNetIP(ip net.IP) (Address, error) {
	if ip4 := ip.To4(); ip4 != nil {
		return Address{family: IPv4, bytes: append([]byte(nil), ip4...)}, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		return Address{family: IPv6, bytes: append([]byte(nil), ip16...)}, nil
	}
	return Address{}, fmt.Errorf("hostaddr: invalid IP %v", ip)
}

// FromSockaddr parses a raw sockaddr_in/sockaddr_in6 record as found
// in the variable tail of a routing-socket message. The family is read
// from byte 1 of sa (BSD's sa_family, which follows sa_len).
func FromSockaddr(sa []byte) (Address, error) {
	if len(sa) < 2 {
		return Address{}, fmt.Errorf("hostaddr: sockaddr record too short (%d bytes)", len(sa))
	}
	family := Family(sa[1])
	switch family {
	case IPv4:
		// sockaddr_in: len, family, port(2), addr(4), zero(8)
		if len(sa) < 8 {
			return Address{}, fmt.Errorf("hostaddr: truncated sockaddr_in (%d bytes)", len(sa))
		}
		return Address{family: IPv4, bytes: append([]byte(nil), sa[4:8]...)}, nil
	case IPv6:
		// sockaddr_in6: len, family, port(2), flowinfo(4), addr(16), scope_id(4)
		if len(sa) < 24 {
			return Address{}, fmt.Errorf("hostaddr: truncated sockaddr_in6 (%d bytes)", len(sa))
		}
		return Address{family: IPv6, bytes: append([]byte(nil), sa[8:24]...)}, nil
	default:
		return Address{}, fmt.Errorf("hostaddr: unsupported address family %d", family)
	}
}

// Family returns the address family.
func (a Address) Family() Family { return a.family }

// Bytes returns the raw address bytes (4 for IPv4, 16 for IPv6). The
// returned slice must not be mutated by the caller.
func (a Address) Bytes() []byte { return a.bytes }

// IsZero reports whether this Address was never assigned a value.
func (a Address) IsZero() bool { return a.bytes == nil }

// Equal reports whether two addresses carry the same family and bytes.
func (a Address) Equal(b Address) bool {
	if a.family != b.family || len(a.bytes) != len(b.bytes) {
		return false
	}
	for i := range a.bytes {
		if a.bytes[i] != b.bytes[i] {
			return false
		}
	}
	return true
}

// IsLinkLocalV6 reports whether this is an IPv6 link-local address
// (fe80::/10); the cache's address enumeration always suppresses
// these regardless of the requested mask.
func (a Address) IsLinkLocalV6() bool {
	return a.family == IPv6 && len(a.bytes) == 16 && a.bytes[0] == 0xfe && (a.bytes[1]&0xc0) == 0x80
}

// NetIP renders the Address as a net.IP for interop with stdlib
// networking calls (e.g. the tunnel-device driver).
func (a Address) NetIP() net.IP {
	return net.IP(append([]byte(nil), a.bytes...))
}

func (a Address) String() string {
	if a.IsZero() {
		return "<nil>"
	}
	return a.NetIP().String()
}

// sockaddrLen returns the byte length of the family-sized sockaddr
// structure this address serializes to, matching the sa_len every
// kernel socket-address structure is required to carry.
func (a Family) sockaddrLen() uint8 {
	switch a {
	case IPv4:
		return 16 // sizeof(sockaddr_in)
	case IPv6:
		return 28 // sizeof(sockaddr_in6)
	default:
		return 0
	}
}

// Sockaddr renders the Address as a family-specific socket-address
// structure, padded/zeroed exactly as the kernel expects, grounded on
// the byte layout the teacher's sockaddrInet struct encodes for AF_INET.
func (a Address) Sockaddr() []byte {
	length := a.family.sockaddrLen()
	buf := make([]byte, length)
	buf[0] = length
	buf[1] = byte(a.family)
	switch a.family {
	case IPv4:
		copy(buf[4:8], a.bytes)
	case IPv6:
		copy(buf[8:24], a.bytes)
	}
	return buf
}

// MaxPrefixLen returns the address width in bits for this family (32
// for IPv4, 128 for IPv6).
func (f Family) MaxPrefixLen() int {
	if f == IPv6 {
		return 128
	}
	return 32
}

// Zero returns the all-zeros address for family (0.0.0.0 or ::).
func Zero(family Family) Address {
	width := family.MaxPrefixLen() / 8
	return Address{family: family, bytes: make([]byte, width)}
}

// UpperHalf returns the first address of family's upper half of the
// address space (128.0.0.0 or 8000::), used to split a default route
// into two /1 halves (spec.md §4.5, scenario S6).
func UpperHalf(family Family) Address {
	width := family.MaxPrefixLen() / 8
	bytes := make([]byte, width)
	bytes[0] = 0x80
	return Address{family: family, bytes: bytes}
}

// PrefixNetmask synthesizes a netmask sockaddr whose address bytes are
// a contiguous run of prefixLen one-bits for the given family, per
// Testable Property 6: exactly prefixLen leading one-bits then zeros.
func PrefixNetmask(family Family, prefixLen int) Address {
	width := 32
	if family == IPv6 {
		width = 128
	}
	if prefixLen < 0 {
		prefixLen = 0
	}
	if prefixLen > width {
		prefixLen = width
	}
	mask := net.CIDRMask(prefixLen, width)
	return Address{family: family, bytes: append([]byte(nil), mask...)}
}
