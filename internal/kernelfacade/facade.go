// Package kernelfacade defines the upstream kernel facade collaborator
// spec.md §6 names: the interface NetMonitor calls out to in order to
// ask whether an interface is usable for IPsec, to report roam events,
// and to register/unregister tunnel devices. This package is
// explicitly out of the NetMonitor core's scope (spec.md §1); it ships
// one default, dependency-free implementation so the module builds and
// runs standalone, and tests can supply a fake.
package kernelfacade

import "sync"

// Facade is the contract a surrounding IPsec daemon implements to
// answer NetMonitor's questions about interface usability and to
// receive roam/tunnel notifications.
type Facade interface {
	// IsInterfaceUsable reports whether the named interface has not
	// been blacklisted for IPsec source-address selection.
	IsInterfaceUsable(name string) bool
	// Roam is invoked (via the scheduler, after the debounce delay)
	// when local addressing may have changed enough to invalidate
	// security associations.
	Roam(addressChanged bool)
	// Tun is invoked when a tunnel device is registered or
	// unregistered for a virtual IP.
	Tun(deviceName string, installed bool)
}

// AllowAll is the default Facade: every interface is usable, and roam
// / tun notifications are recorded for introspection but otherwise
// ignored. Suitable for standalone operation and as a test double.
type AllowAll struct {
	mu        sync.Mutex
	roams     []bool
	tunEvents []tunEvent
	blocked   map[string]bool
}

type tunEvent struct {
	name      string
	installed bool
}

// NewAllowAll creates a Facade that treats every interface as usable
// except those later excluded with Exclude.
func NewAllowAll() *AllowAll {
	return &AllowAll{blocked: make(map[string]bool)}
}

// Exclude marks name as not usable, so IsInterfaceUsable returns false
// for it — used by tests exercising the "ignored" enumeration bit.
func (a *AllowAll) Exclude(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked[name] = true
}

// IsInterfaceUsable implements Facade.
func (a *AllowAll) IsInterfaceUsable(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.blocked[name]
}

// Roam implements Facade, recording each call for later inspection.
func (a *AllowAll) Roam(addressChanged bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roams = append(a.roams, addressChanged)
}

// Tun implements Facade, recording each call for later inspection.
func (a *AllowAll) Tun(deviceName string, installed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tunEvents = append(a.tunEvents, tunEvent{name: deviceName, installed: installed})
}

// RoamCount returns how many times Roam has fired.
func (a *AllowAll) RoamCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.roams)
}

// LastRoam reports the addressChanged argument of the most recent
// Roam call and whether any call has happened yet.
func (a *AllowAll) LastRoam() (addressChanged bool, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.roams) == 0 {
		return false, false
	}
	return a.roams[len(a.roams)-1], true
}
