// Package metrics collects lightweight operational counters for a
// NetMonitor instance, adapted from the route-manager metrics the
// teacher keeps alongside its transport implementation.
package metrics

import (
	"sync"
	"time"
)

// Metrics tracks counters and timings for the kernel network interface
// core: query latency, roam scheduling, and protocol-level drops.
type Metrics struct {
	mutex sync.RWMutex

	Queries          int64
	QueriesSucceeded int64
	QueriesTimedOut  int64
	AverageQueryTime time.Duration

	RoamEventsScheduled int64
	RoamEventsCoalesced int64

	ProtocolDrops  int64
	TransportRetry int64

	LastUpdate time.Time
}

// New creates a Metrics instance ready for use.
func New() *Metrics {
	return &Metrics{LastUpdate: time.Now()}
}

// RecordQuery records the outcome and latency of a route-get query.
func (m *Metrics) RecordQuery(duration time.Duration, succeeded bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Queries++
	if succeeded {
		m.QueriesSucceeded++
	} else {
		m.QueriesTimedOut++
	}
	if m.AverageQueryTime == 0 {
		m.AverageQueryTime = duration
	} else {
		m.AverageQueryTime = (m.AverageQueryTime + duration) / 2
	}
	m.LastUpdate = time.Now()
}

// RecordRoamScheduled records a roam callback actually scheduled vs.
// one that was coalesced into an already-pending window.
func (m *Metrics) RecordRoamScheduled(scheduled bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if scheduled {
		m.RoamEventsScheduled++
	} else {
		m.RoamEventsCoalesced++
	}
	m.LastUpdate = time.Now()
}

// RecordProtocolDrop records a message dropped by the codec/dispatcher
// for failing validation.
func (m *Metrics) RecordProtocolDrop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.ProtocolDrops++
	m.LastUpdate = time.Now()
}

// RecordTransportRetry records a retried receive after a transient
// socket error.
func (m *Metrics) RecordTransportRetry() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TransportRetry++
	m.LastUpdate = time.Now()
}

// Snapshot is a point-in-time, lock-free copy of the counters.
type Snapshot struct {
	Queries             int64
	QueriesSucceeded    int64
	QueriesTimedOut     int64
	AverageQueryTime    time.Duration
	RoamEventsScheduled int64
	RoamEventsCoalesced int64
	ProtocolDrops       int64
	TransportRetry      int64
	LastUpdate          time.Time
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return Snapshot{
		Queries:             m.Queries,
		QueriesSucceeded:    m.QueriesSucceeded,
		QueriesTimedOut:     m.QueriesTimedOut,
		AverageQueryTime:    m.AverageQueryTime,
		RoamEventsScheduled: m.RoamEventsScheduled,
		RoamEventsCoalesced: m.RoamEventsCoalesced,
		ProtocolDrops:       m.ProtocolDrops,
		TransportRetry:      m.TransportRetry,
		LastUpdate:          m.LastUpdate,
	}
}
