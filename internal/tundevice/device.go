// Package tundevice is the tunnel-device driver collaborator spec.md
// §1 names as external to the NetMonitor core: it creates a virtual
// point-to-point interface, assigns it an address and prefix, and
// brings it up. NetMonitor only ever holds a Device behind a
// TunnelHandle for eventual teardown (spec.md §3).
package tundevice

import "github.com/wesleywu/pfnetmon/internal/hostaddr"

// Device is a single tunnel interface allocated for one virtual IP.
type Device interface {
	// Name returns the kernel interface name (e.g. "utun7").
	Name() string
	// Up brings the interface up.
	Up() error
	// SetAddress assigns addr/prefixLen as the device's point-to-point
	// address.
	SetAddress(addr hostaddr.Address, prefixLen int) error
	// Close tears the device down and releases it back to the kernel.
	Close() error
}

// Driver allocates new Device instances. It is the seam tests replace
// with an in-memory fake.
type Driver interface {
	Create() (Device, error)
}
