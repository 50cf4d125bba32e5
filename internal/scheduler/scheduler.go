// Package scheduler provides the job scheduler / thread pool
// collaborator spec.md names as an external dependency of the
// NetMonitor core: a bounded goroutine pool that runs the event-reader
// task and any delayed callbacks (roam events), grounded on the
// teacher's use of github.com/panjf2000/ants/v2 for its route-batch
// worker pool.
package scheduler

import (
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Pool is a bounded goroutine pool shared by a NetMonitor's reader
// task and its scheduled callbacks, so neither can starve the other.
type Pool struct {
	pool *ants.Pool
}

// NewPool creates a pool with capacity concurrent goroutines. A
// capacity of 0 uses a sensible small default, since a NetMonitor only
// ever needs one reader task plus the occasional roam callback.
func NewPool(capacity int) (*Pool, error) {
	if capacity <= 0 {
		capacity = 4
	}
	p, err := ants.NewPool(capacity, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to create pool: %w", err)
	}
	return &Pool{pool: p}, nil
}

// Submit runs fn on the pool, blocking until a worker is available.
func (p *Pool) Submit(fn func()) error {
	return p.pool.Submit(fn)
}

// Release waits for running workers to finish and releases the pool's
// resources. Safe to call more than once.
func (p *Pool) Release() {
	p.pool.Release()
}

// Scheduler runs a callback once, after a fixed delay, through a
// shared Pool — this is the "job scheduler" spec.md §1 names as an
// external collaborator and §4.7 uses to fire roam events.
type Scheduler struct {
	pool *Pool
}

// NewScheduler creates a Scheduler that submits fired callbacks to pool.
func NewScheduler(pool *Pool) *Scheduler {
	return &Scheduler{pool: pool}
}

// ScheduleOnce arranges for fn to run, on the shared pool, after delay
// has elapsed. It returns immediately; errors submitting the fired
// callback are swallowed (the pool rejecting a late callback is not
// actionable by the caller, matching the teacher's fire-and-forget job
// scheduling style).
func (s *Scheduler) ScheduleOnce(delay time.Duration, fn func()) {
	time.AfterFunc(delay, func() {
		_ = s.pool.Submit(fn)
	})
}
