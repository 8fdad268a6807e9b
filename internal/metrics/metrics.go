package metrics

import "sync/atomic"

// Metrics captures shared operational stats for the poll loop.
type Metrics struct {
	cyclesCompleted int64
	cyclesFailed    int64
	fallbackFetches int64
	lastTotal       int64
	lastCycleUnix   int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	CyclesCompleted int64 `json:"cycles_completed"`
	CyclesFailed    int64 `json:"cycles_failed"`
	FallbackFetches int64 `json:"fallback_fetches"`
	LastTotal       int64 `json:"last_total"`
	LastCycleUnix   int64 `json:"last_cycle_unix"`
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// RecordCycle increments completed/failed counters based on outcome.
func (m *Metrics) RecordCycle(err error) {
	if err != nil {
		atomic.AddInt64(&m.cyclesFailed, 1)
		return
	}
	atomic.AddInt64(&m.cyclesCompleted, 1)
}

// RecordFallback counts cycles served by the fallback endpoint.
func (m *Metrics) RecordFallback() {
	atomic.AddInt64(&m.fallbackFetches, 1)
}

// SetLast records the latest successful cycle's total and time.
func (m *Metrics) SetLast(total int64, unix int64) {
	atomic.StoreInt64(&m.lastTotal, total)
	atomic.StoreInt64(&m.lastCycleUnix, unix)
}

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		CyclesCompleted: atomic.LoadInt64(&m.cyclesCompleted),
		CyclesFailed:    atomic.LoadInt64(&m.cyclesFailed),
		FallbackFetches: atomic.LoadInt64(&m.fallbackFetches),
		LastTotal:       atomic.LoadInt64(&m.lastTotal),
		LastCycleUnix:   atomic.LoadInt64(&m.lastCycleUnix),
	}
}
