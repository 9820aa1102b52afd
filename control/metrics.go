// control/metrics.go
//
// Runtime metrics collector for the proactor's driver loop: every
// Proactor.Run/RunOne/Poll/PollOne return is one driver invocation, and its
// returned handled count is the number of completion handlers that
// invocation dispatched.

package control

import "sync/atomic"

// MetricsRegistry tallies driver invocations and the completion handlers
// they dispatched. Counters are plain atomics rather than a mutex-guarded
// map: RecordRun is meant to be called from the driver loop itself on every
// iteration, so it needs to stay cheap.
type MetricsRegistry struct {
	driverRuns        int64
	handlerDispatches int64
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{}
}

// MetricsSnapshot is a point-in-time read of MetricsRegistry's counters.
type MetricsSnapshot struct {
	DriverRuns        int64
	HandlerDispatches int64
}

// RecordRun accounts for one driver invocation that dispatched handled
// completion handlers, matching the (handled int, err error) shape every
// Proactor driver method returns.
func (mr *MetricsRegistry) RecordRun(handled int) {
	atomic.AddInt64(&mr.driverRuns, 1)
	atomic.AddInt64(&mr.handlerDispatches, int64(handled))
}

// GetSnapshot returns the latest counters.
func (mr *MetricsRegistry) GetSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		DriverRuns:        atomic.LoadInt64(&mr.driverRuns),
		HandlerDispatches: atomic.LoadInt64(&mr.handlerDispatches),
	}
}
