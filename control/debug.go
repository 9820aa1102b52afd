// control/debug.go
//
// Runtime debug handler and probe reflector for internal inspection, wired
// directly to the proactor/service counters it exists to surface rather
// than a caller-maintained generic probe table.

package control

import (
	"sync"

	"github.com/momentics/ioproactor/ioservice"
	"github.com/momentics/ioproactor/proactor"
)

// DebugProbes reflects one Proactor/Service pair's live counters, plus any
// caller-registered custom probes (e.g. an application-level byte counter
// that the engine itself has no visibility into).
type DebugProbes struct {
	p   *proactor.Proactor
	svc *ioservice.Service

	mu     sync.RWMutex
	custom map[string]func() any
}

// NewDebugProbes binds a probe registry to p and svc. Both may be nil, in
// which case the corresponding fixed probes are omitted from DumpState.
func NewDebugProbes(p *proactor.Proactor, svc *ioservice.Service) *DebugProbes {
	return &DebugProbes{
		p:      p,
		svc:    svc,
		custom: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named custom debug hook, for state DebugProbes
// itself has no getter for (application counters, facade-local state).
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.custom[name] = fn
}

// DumpState returns the fixed proactor.work_counter/proactor.stopped/
// service.in_use/service.free_list_depth/service.iovec_cache_depth readings
// alongside the output of every registered custom probe.
func (dp *DebugProbes) DumpState() map[string]any {
	out := make(map[string]any)
	if dp.p != nil {
		out["proactor.work_counter"] = dp.p.WorkCounter()
		out["proactor.stopped"] = dp.p.Stopped()
	}
	if dp.svc != nil {
		out["service.in_use"] = dp.svc.InUseCount()
		out["service.free_list_depth"] = dp.svc.FreeListDepth()
		out["service.iovec_cache_depth"] = dp.svc.IovecCacheDepth()
	}

	dp.mu.RLock()
	defer dp.mu.RUnlock()
	for k, fn := range dp.custom {
		out[k] = fn()
	}
	return out
}
