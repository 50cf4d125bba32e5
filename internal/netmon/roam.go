//go:build darwin || freebsd

package netmon

import (
	"sync"
	"time"
)

// roamDelay is the fixed coalescing window spec.md §4.7 specifies: at
// most one roam callback fires per 100ms window of wall time,
// regardless of how many cache changes occur within it (Testable
// Property 5).
const roamDelay = 100 * time.Millisecond

// roamDebouncer implements spec.md §4.7: it schedules, via the shared
// scheduler, a single invocation of the kernel facade's Roam callback
// after roamDelay, coalescing calls that arrive while a scheduled
// event is still pending. The coalescing test is a monotonic "last
// scheduled" timestamp, not a boolean flag, because strongSwan's
// original and spec.md's Testable Property 5 both phrase it as a
// deadline comparison rather than a pending/not-pending bit.
type roamDebouncer struct {
	mu            sync.Mutex
	lastScheduled time.Time
}

func newRoamDebouncer() *roamDebouncer {
	return &roamDebouncer{}
}

// scheduleRoam is called by the event dispatcher (spec.md §4.4) on any
// cache change that affects up-and-usable interfaces. A new schedule
// request is honored only when now strictly exceeds
// lastScheduled+roamDelay; otherwise it is dropped as already covered
// by a pending callback.
func (r *roamDebouncer) scheduleRoam(m *NetMonitor, addrChanged bool) {
	now := time.Now()

	r.mu.Lock()
	if !now.After(r.lastScheduled.Add(roamDelay)) {
		r.mu.Unlock()
		m.metrics.RecordRoamScheduled(false)
		return
	}
	r.lastScheduled = now
	r.mu.Unlock()

	m.metrics.RecordRoamScheduled(true)
	m.logger.RoamScheduled(addrChanged, roamDelay.String())

	m.sched.ScheduleOnce(roamDelay, func() {
		m.facade.Roam(addrChanged)
	})
}

// scheduleRoam is the dispatcher-facing entry point spec.md §4.4 and
// §4.7 call fire_roam_event: it forwards to the NetMonitor's
// roamDebouncer.
func (m *NetMonitor) scheduleRoam(addrChanged bool) {
	m.roam.scheduleRoam(m, addrChanged)
}
