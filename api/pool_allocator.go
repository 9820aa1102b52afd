// api/pool_allocator.go
//
// PoolAllocator is a sync.Pool-backed Allocator, for callers that post or
// initiate operations at a high enough rate that the plain heap allocator's
// GC pressure matters.
package api

import "sync"

// PoolAllocator recycles WorkItem boxes through a sync.Pool.
type PoolAllocator struct {
	pool sync.Pool
}

// NewPoolAllocator constructs a ready-to-use PoolAllocator.
func NewPoolAllocator() *PoolAllocator {
	pa := &PoolAllocator{}
	pa.pool.New = func() any { return &WorkItem{} }
	return pa
}

func (pa *PoolAllocator) Get() *WorkItem {
	return pa.pool.Get().(*WorkItem)
}

func (pa *PoolAllocator) Put(w *WorkItem) {
	w.Fn = nil
	pa.pool.Put(w)
}
