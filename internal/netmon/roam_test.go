//go:build darwin || freebsd

package netmon

import (
	"testing"
	"time"

	"github.com/wesleywu/pfnetmon/internal/kernelfacade"
	"github.com/wesleywu/pfnetmon/internal/logger"
	"github.com/wesleywu/pfnetmon/internal/metrics"
	"github.com/wesleywu/pfnetmon/internal/scheduler"
)

func newTestMonitor(t *testing.T) (*NetMonitor, *kernelfacade.AllowAll) {
	t.Helper()
	pool, err := scheduler.NewPool(2)
	if err != nil {
		t.Fatalf("scheduler.NewPool: %v", err)
	}
	t.Cleanup(pool.Release)

	facade := kernelfacade.NewAllowAll()
	m := &NetMonitor{
		facade:  facade,
		pool:    pool,
		sched:   scheduler.NewScheduler(pool),
		logger:  logger.New("error"),
		metrics: metrics.New(),
	}
	m.roam = newRoamDebouncer()
	return m, facade
}

func TestScheduleRoamFiresAfterDelay(t *testing.T) {
	m, facade := newTestMonitor(t)

	m.scheduleRoam(true)

	deadline := time.Now().Add(roamDelay + 500*time.Millisecond)
	for facade.RoamCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if facade.RoamCount() != 1 {
		t.Fatalf("RoamCount() = %d, want 1", facade.RoamCount())
	}
	changed, ok := facade.LastRoam()
	if !ok || !changed {
		t.Errorf("LastRoam() = (%v, %v), want (true, true)", changed, ok)
	}
}

func TestScheduleRoamCoalescesWithinWindow(t *testing.T) {
	m, facade := newTestMonitor(t)

	m.scheduleRoam(true)
	m.scheduleRoam(false) // within roamDelay of the first call: dropped
	m.scheduleRoam(false) // still within the window: dropped

	deadline := time.Now().Add(roamDelay + 500*time.Millisecond)
	for facade.RoamCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if facade.RoamCount() != 1 {
		t.Fatalf("RoamCount() = %d, want exactly 1 coalesced callback", facade.RoamCount())
	}

	snap := m.metrics.Snapshot()
	if snap.RoamEventsScheduled != 1 {
		t.Errorf("RoamEventsScheduled = %d, want 1", snap.RoamEventsScheduled)
	}
	if snap.RoamEventsCoalesced != 2 {
		t.Errorf("RoamEventsCoalesced = %d, want 2", snap.RoamEventsCoalesced)
	}
}

func TestScheduleRoamAllowsNewWindowAfterDelayElapses(t *testing.T) {
	m, facade := newTestMonitor(t)

	m.scheduleRoam(true)
	time.Sleep(roamDelay + 50*time.Millisecond)
	m.scheduleRoam(true)

	deadline := time.Now().Add(roamDelay + 500*time.Millisecond)
	for facade.RoamCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if facade.RoamCount() != 2 {
		t.Fatalf("RoamCount() = %d, want 2 separate windows to both fire", facade.RoamCount())
	}
}
