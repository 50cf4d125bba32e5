//go:build !darwin && !freebsd

package netmon

import (
	"github.com/wesleywu/pfnetmon/internal/hostaddr"
	"github.com/wesleywu/pfnetmon/internal/kernelfacade"
	"github.com/wesleywu/pfnetmon/internal/logger"
	"github.com/wesleywu/pfnetmon/internal/metrics"
	"github.com/wesleywu/pfnetmon/internal/scheduler"
	"github.com/wesleywu/pfnetmon/internal/tundevice"
)

// Features mirrors the BSD build's capability flags (spec.md §6); see
// monitor.go.
type Features struct {
	RequiresExcludeRoute bool
}

// Options mirrors the BSD build's construction options; see monitor.go.
// It exists here too so callers can build this package uniformly
// across platforms even though construction always fails.
type Options struct {
	Facade        kernelfacade.Facade
	Driver        tundevice.Driver
	Pool          *scheduler.Pool
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
	WithoutReader bool
}

// AddressMask mirrors the BSD build's enumeration mask bits; see
// cache.go. The bit values are part of the public API and must match.
type AddressMask uint8

const (
	MaskUp AddressMask = 1 << iota
	MaskVirtual
	MaskLoopback
	MaskSkipUnusable
)

// NetMonitor stubs the core on platforms without a routing-socket
// transport — spec.md's non-goals exclude Linux netlink support, and
// this core's wire protocol is inherently BSD-specific (spec.md §1,
// §6's sa_len environment constraint), so there is no alternate
// implementation to provide here, only a clear failure at
// construction time.
type NetMonitor struct{}

// NewNetMonitor always fails on this platform.
func NewNetMonitor(opts Options) (*NetMonitor, error) {
	return nil, ErrUnsupportedPlatform
}

func (m *NetMonitor) Features() Features { return Features{} }

func (m *NetMonitor) GetInterface(ip hostaddr.Address) (string, bool) { return "", false }

func (m *NetMonitor) CreateAddressEnumerator(mask AddressMask) *AddressEnumerator { return nil }

func (m *NetMonitor) GetSourceAddr(dest hostaddr.Address, srcHint *hostaddr.Address) (hostaddr.Address, bool) {
	return hostaddr.Address{}, false
}

func (m *NetMonitor) GetNexthop(dest hostaddr.Address, srcHint *hostaddr.Address) (hostaddr.Address, bool) {
	return hostaddr.Address{}, false
}

func (m *NetMonitor) AddIP(vip hostaddr.Address, prefix int, ifaceHint string) error {
	return ErrUnsupportedPlatform
}

func (m *NetMonitor) DelIP(vip hostaddr.Address, prefix int, wait bool) error {
	return ErrUnsupportedPlatform
}

func (m *NetMonitor) AddRoute(dst hostaddr.Address, prefix int, gateway *hostaddr.Address, src *hostaddr.Address, ifName string) error {
	return ErrUnsupportedPlatform
}

func (m *NetMonitor) DelRoute(dst hostaddr.Address, prefix int, gateway *hostaddr.Address, src *hostaddr.Address, ifName string) error {
	return ErrUnsupportedPlatform
}

func (m *NetMonitor) Destroy() error { return nil }

// AddressEnumerator stubs the BSD build's enumerator type so
// CreateAddressEnumerator's signature matches across platforms.
type AddressEnumerator struct{}

func (e *AddressEnumerator) Next() bool               { return false }
func (e *AddressEnumerator) Address() hostaddr.Address { return hostaddr.Address{} }
func (e *AddressEnumerator) Interface() string         { return "" }
func (e *AddressEnumerator) Close()                    {}
func (e *AddressEnumerator) Destroy()                  {}
