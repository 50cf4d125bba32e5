//go:build darwin || freebsd

package netmon

import (
	"fmt"
	"sync"
	"time"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
	"github.com/wesleywu/pfnetmon/internal/tundevice"
)

// vipWaitTimeout bounds how long AddIP/DelIP wait for the dispatcher
// to observe the kernel's NEW_ADDR/DEL_ADDR for a virtual IP. It is a
// single total bound, not split into 1 s increments: the predicate is
// re-checked after every condition-variable wake-up until it holds or
// vipWaitTimeout has elapsed.
const vipWaitTimeout = 5 * time.Second

// tunnelHandle owns one tunnel device allocated for a virtual IP,
// matching spec.md §3's TunnelHandle: retained purely for teardown.
type tunnelHandle struct {
	device tundevice.Device
	vip    hostaddr.Address
	prefix int
}

// vipManager implements spec.md §4.6: allocating tunnel devices,
// rendezvousing with the event dispatcher to confirm the kernel has
// observed the resulting address change, and tracking handles for
// teardown.
type vipManager struct {
	m      *NetMonitor
	driver tundevice.Driver

	mu      sync.Mutex
	tunnels []*tunnelHandle
}

func newVipManager(m *NetMonitor, driver tundevice.Driver) *vipManager {
	return &vipManager{m: m, driver: driver}
}

// owns reports whether addr is the address of a virtual IP this
// manager is currently tracking — consulted by the dispatcher
// (spec.md §4.4) to decide whether an incoming NEW_ADDR should be
// recorded as virtual from the moment it is first seen.
func (v *vipManager) owns(addr hostaddr.Address) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range v.tunnels {
		if t.vip.Equal(addr) {
			return true
		}
	}
	return false
}

// AddIP implements the public add_ip operation (spec.md §4.6, §6).
func (m *NetMonitor) AddIP(vip hostaddr.Address, prefix int, ifaceHint string) error {
	return m.vip.add(vip, prefix, ifaceHint)
}

func (v *vipManager) add(vip hostaddr.Address, prefix int, ifaceHint string) error {
	if prefix <= 0 {
		prefix = vip.Family().MaxPrefixLen()
	}

	device, err := v.driver.Create()
	if err != nil {
		return fmt.Errorf("%w: allocating tunnel device: %v", ErrFailed, err)
	}
	if err := device.Up(); err != nil {
		device.Close()
		return fmt.Errorf("%w: bringing tunnel device up: %v", ErrFailed, err)
	}
	if err := device.SetAddress(vip, prefix); err != nil {
		device.Close()
		return fmt.Errorf("%w: assigning virtual IP: %v", ErrFailed, err)
	}

	// Register with the manager before waiting so a dispatcher NEW_ADDR
	// for this address processed from here on is classified virtual
	// (processAddr consults vip.owns before the cache mutation it
	// triggers). A NEW_ADDR processed between SetAddress and this point
	// is recorded as non-virtual; markVirtual below corrects it.
	handle := &tunnelHandle{device: device, vip: vip, prefix: prefix}
	v.mu.Lock()
	v.tunnels = append(v.tunnels, handle)
	v.mu.Unlock()

	if !v.waitForObservation(vip, true) {
		v.removeHandle(handle)
		device.Close()
		v.m.logger.VirtualIP("add", vip.String(), device.Name(), false)
		return fmt.Errorf("%w: waiting for kernel to observe virtual IP %s", ErrTimeout, vip)
	}

	v.m.cache.markVirtual(device.Name(), vip)
	v.m.facade.Tun(device.Name(), true)
	v.m.logger.VirtualIP("add", vip.String(), device.Name(), true)
	return nil
}

// DelIP implements the public del_ip operation (spec.md §4.6, §6).
func (m *NetMonitor) DelIP(vip hostaddr.Address, prefix int, wait bool) error {
	return m.vip.del(vip, prefix, wait)
}

func (v *vipManager) del(vip hostaddr.Address, prefix int, wait bool) error {
	handle := v.removeByAddress(vip)
	if handle == nil {
		return fmt.Errorf("%w: no virtual IP %s installed", ErrNotFound, vip)
	}

	v.m.facade.Tun(handle.device.Name(), false)
	if err := handle.device.Close(); err != nil {
		v.m.logger.VirtualIP("del", vip.String(), handle.device.Name(), false)
		return fmt.Errorf("%w: destroying tunnel device: %v", ErrFailed, err)
	}

	if wait {
		if !v.waitForObservation(vip, false) {
			v.m.logger.VirtualIP("del", vip.String(), handle.device.Name(), false)
			return fmt.Errorf("%w: waiting for kernel to retract virtual IP %s", ErrTimeout, vip)
		}
	}
	v.m.logger.VirtualIP("del", vip.String(), handle.device.Name(), true)
	return nil
}

// waitForObservation blocks on the rendezvous condition variable,
// woken by every inbound message (spec.md §4.4's final paragraph),
// until the cache shows (or stops showing) vip — i.e. the event
// dispatcher has processed the kernel's NEW_ADDR or DEL_ADDR for this
// address (spec.md §4.6 steps 2 and "if wait is requested").
//
// GetInterface's "up and usable" predicate would mask a virtual
// address on an interface the kernel facade has not yet marked usable,
// so this waits on raw cache membership instead, mirroring the
// underlying kernel-observed predicate spec.md describes rather than
// the public query's stricter one.
func (v *vipManager) waitForObservation(vip hostaddr.Address, wantPresent bool) bool {
	return v.m.rendez.waitPredicate(vipWaitTimeout, func() bool {
		return v.m.cache.addressPresent(vip) == wantPresent
	})
}

func (v *vipManager) removeHandle(h *tunnelHandle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, t := range v.tunnels {
		if t == h {
			v.tunnels = append(v.tunnels[:i], v.tunnels[i+1:]...)
			return
		}
	}
}

func (v *vipManager) removeByAddress(vip hostaddr.Address) *tunnelHandle {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, t := range v.tunnels {
		if t.vip.Equal(vip) {
			v.tunnels = append(v.tunnels[:i], v.tunnels[i+1:]...)
			return t
		}
	}
	return nil
}

// destroyAll tears down every remaining tunnel, called from Destroy.
func (v *vipManager) destroyAll() {
	v.mu.Lock()
	tunnels := v.tunnels
	v.tunnels = nil
	v.mu.Unlock()

	for _, t := range tunnels {
		v.m.facade.Tun(t.device.Name(), false)
		t.device.Close()
	}
}
