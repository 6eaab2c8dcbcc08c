package manager

import (
	"sync/atomic"
	"time"
)

// Metrics accumulates process-wide counters for the life of the manager.
// Counters only reset when the manager is reconstructed.
type Metrics struct {
	total      atomic.Int64
	active     atomic.Int64
	failed     atomic.Int64
	healing    atomic.Int64
	latencySum atomic.Int64 // nanoseconds across all established connections
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	TotalConnections  int64         `json:"total_connections"`
	ActiveConnections int64         `json:"active_connections"`
	FailedConnections int64         `json:"failed_connections"`
	HealingOperations int64         `json:"healing_operations"`
	AverageLatency    time.Duration `json:"average_latency"`
}

func (m *Metrics) connectionCreated(latency time.Duration) {
	m.total.Add(1)
	m.latencySum.Add(int64(latency))
}

func (m *Metrics) connectionFailed() { m.failed.Add(1) }
func (m *Metrics) checkedOut()       { m.active.Add(1) }
func (m *Metrics) checkedIn()        { m.active.Add(-1) }
func (m *Metrics) healingAttempt()   { m.healing.Add(1) }

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		TotalConnections:  m.total.Load(),
		ActiveConnections: m.active.Load(),
		FailedConnections: m.failed.Load(),
		HealingOperations: m.healing.Load(),
	}
	if s.TotalConnections > 0 {
		s.AverageLatency = time.Duration(m.latencySum.Load() / s.TotalConnections)
	}
	return s
}
