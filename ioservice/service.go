// Package ioservice implements the I/O object service: pooled completion
// records carrying a type-erased continuation, per-object ownership lists
// so move/destroy/shutdown of a facade is well-defined with operations in
// flight, and the routing of ring completions back to the record that
// issued them.
//
// The service's free-list and per-handle ownership lists are touched only
// from the proactor's driver thread, the same single-writer discipline the
// ring's submission queue itself relies on; callers are expected to issue
// Initiate/Construct/Destroy/Shutdown only from the driver thread (directly,
// or via Executor.Dispatch when already on it).
package ioservice

import (
	"fmt"
	"unsafe"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/internal/task"
	"github.com/momentics/ioproactor/internal/uring"
	"github.com/momentics/ioproactor/proactor"
	"golang.org/x/sys/unix"
)

// PrepareFunc populates a reserved submission queue entry. userData is the
// record address the service will install into sqe.UserData after
// PrepareFunc returns; it is passed through so a prepare function that
// itself needs to reference the operation's own identity (uncommon) can.
type PrepareFunc func(sqe *uring.SQE, userData uintptr)

// VectoredPrepareFunc is PrepareFunc's counterpart for operations that need
// a rented scatter-gather vector.
type VectoredPrepareFunc func(sqe *uring.SQE, userData uintptr, iov []unix.Iovec)

type record struct {
	handle           *Handle
	cell             *task.Cell
	iov              []unix.Iovec
	shutdownReleased bool
}

// Service pools completion records for one Proactor.
type Service struct {
	p          *proactor.Proactor
	inUse      map[uintptr]*record
	free       []*record
	iovecCache [][]unix.Iovec
}

// New constructs a Service and registers it as the Proactor's completion
// handler for every non-internal completion.
func New(p *proactor.Proactor) *Service {
	s := &Service{p: p, inUse: make(map[uintptr]*record)}
	p.OnCompletion(s.complete)
	return s
}

func (s *Service) acquire() *record {
	if n := len(s.free); n > 0 {
		r := s.free[n-1]
		s.free = s.free[:n-1]
		return r
	}
	return &record{}
}

func (s *Service) acquireIovec(n int) []unix.Iovec {
	if L := len(s.iovecCache); L > 0 {
		v := s.iovecCache[L-1]
		s.iovecCache = s.iovecCache[:L-1]
		if cap(v) < n {
			return make([]unix.Iovec, n)
		}
		return v[:n]
	}
	return make([]unix.Iovec, n)
}

func (s *Service) releaseIovec(v []unix.Iovec) {
	s.iovecCache = append(s.iovecCache, v[:0])
}

// InUseCount returns the number of completion records currently outstanding
// (submitted but not yet completed). Like Initiate, only safe to call from
// the driver thread.
func (s *Service) InUseCount() int {
	return len(s.inUse)
}

// FreeListDepth returns the number of completion records currently cached
// for reuse. Like Initiate, only safe to call from the driver thread.
func (s *Service) FreeListDepth() int {
	return len(s.free)
}

// IovecCacheDepth returns the number of scatter-gather vectors currently
// cached for reuse by InitiateVectored. Like Initiate, only safe to call
// from the driver thread.
func (s *Service) IovecCacheDepth() int {
	return len(s.iovecCache)
}

// Handle is a per-facade ownership list of outstanding completion records.
type Handle struct {
	svc     *Service
	records map[uintptr]*record
}

// Construct returns a fresh, empty Handle bound to s.
func (s *Service) Construct() *Handle {
	return &Handle{svc: s, records: make(map[uintptr]*record)}
}

// Destroy unlinks every record from h without cancelling the underlying
// kernel operations: they remain in the service's in-use set, will still
// complete, and their continuations will still be invoked — just no longer
// reachable from h's ownership list (so h can be discarded safely).
func (h *Handle) Destroy() {
	for addr, r := range h.records {
		r.handle = nil
		delete(h.records, addr)
	}
}

// Iterate calls fn with the user-data (record address) of every record h
// currently owns, stopping early if fn returns false. Used to issue
// poll-remove cancellations against a facade's outstanding operations.
func (h *Handle) Iterate(fn func(userData uintptr) bool) {
	for addr := range h.records {
		if !fn(addr) {
			return
		}
	}
}

// MoveConstruct transfers src's ownership list into a new Handle, leaving
// src empty.
func (s *Service) MoveConstruct(src *Handle) *Handle {
	dst := &Handle{svc: s, records: src.records}
	for _, r := range dst.records {
		r.handle = dst
	}
	src.records = make(map[uintptr]*record)
	return dst
}

// MoveAssign destroys dst's current ownership list (per Destroy's
// non-cancelling contract) and replaces it with src's, leaving src empty.
func (dst *Handle) MoveAssign(src *Handle) {
	dst.Destroy()
	dst.records = src.records
	for _, r := range dst.records {
		r.handle = dst
	}
	src.records = make(map[uintptr]*record)
}

// Shutdown destroys every still-installed continuation without invoking it
// and releases the Proactor's corresponding work-counter contribution. The
// completion records themselves are left in place: their kernel operations
// will still complete, and will be silently released with no continuation
// to invoke. Calling Shutdown twice in succession behaves as one call.
func (s *Service) Shutdown() {
	for _, r := range s.inUse {
		if r.cell != nil && r.cell.Valid() {
			r.cell.Reset()
			r.shutdownReleased = true
			s.p.OnWorkFinished()
		}
	}
}

// Initiate acquires a free completion record, links it into the in-use set
// and h's ownership list (if h is non-nil), installs cont (bumping the
// Proactor's work counter), obtains a submission entry, calls prepare to
// populate it, and submits.
func (s *Service) Initiate(h *Handle, prepare PrepareFunc, cont api.Continuation) error {
	r := s.acquire()
	addr := uintptr(unsafe.Pointer(r))
	s.link(addr, r, h)

	r.cell = task.New(cont)
	s.p.OnWorkStarted()

	sqe, err := s.p.GetSubmissionEntry()
	if err != nil {
		// Design decision: "no submission queue entry available" during
		// initiate stays a hard failure rather than gaining a
		// deferred-submission retry path. Still unwind first: the record
		// was already acquired and linked, and OnWorkStarted already
		// bumped the work counter above, so panicking without unwinding
		// would leak the record into s.inUse forever and leave the work
		// counter permanently inflated by one.
		s.unwind(addr, r, h)
		panic(fmt.Errorf("ioservice: initiate: %w", err))
	}
	prepare(sqe, addr)
	sqe.UserData = uint64(addr)

	if _, err := s.p.Submit(); err != nil {
		s.unwind(addr, r, h)
		return err
	}
	return nil
}

// InitiateVectored is Initiate, additionally renting a scatter-gather
// vector of n entries from the per-service cache for prepare to populate.
// The vector is returned to the cache when the record is released.
func (s *Service) InitiateVectored(h *Handle, n int, prepare VectoredPrepareFunc, cont api.Continuation) error {
	r := s.acquire()
	addr := uintptr(unsafe.Pointer(r))
	r.iov = s.acquireIovec(n)
	s.link(addr, r, h)

	r.cell = task.New(cont)
	s.p.OnWorkStarted()

	sqe, err := s.p.GetSubmissionEntry()
	if err != nil {
		// Same leak hazard as Initiate above: unwind before panicking so
		// the record and its rented iovec return to their free lists and
		// the work counter drops back down, instead of staying stuck in
		// s.inUse/h.records with no completion ever coming to release them.
		s.unwind(addr, r, h)
		panic(fmt.Errorf("ioservice: initiate vectored: %w", err))
	}
	prepare(sqe, addr, r.iov)
	sqe.UserData = uint64(addr)

	if _, err := s.p.Submit(); err != nil {
		s.unwind(addr, r, h)
		return err
	}
	return nil
}

func (s *Service) link(addr uintptr, r *record, h *Handle) {
	r.handle = h
	s.inUse[addr] = r
	if h != nil {
		h.records[addr] = r
	}
}

func (s *Service) unwind(addr uintptr, r *record, h *Handle) {
	delete(s.inUse, addr)
	if h != nil {
		delete(h.records, addr)
	}
	r.cell.Reset()
	r.cell = nil
	s.p.OnWorkFinished()
	if r.iov != nil {
		s.releaseIovec(r.iov)
		r.iov = nil
	}
	r.handle = nil
	s.free = append(s.free, r)
}

// complete routes one ring completion back to its record: unlink, extract
// the continuation, return any rented iovec to the cache, return the
// record to the free list, then invoke the continuation. A continuation
// that panics propagates to the Proactor's driver; the record has already
// been recycled by the time it runs.
func (s *Service) complete(userData uint64, res int32, flags uint32) {
	addr := uintptr(userData)
	r, ok := s.inUse[addr]
	if !ok {
		return
	}
	delete(s.inUse, addr)
	if r.handle != nil {
		delete(r.handle.records, addr)
	}

	cell := r.cell
	wasShutdown := r.shutdownReleased
	r.cell = nil
	r.shutdownReleased = false
	r.handle = nil
	if r.iov != nil {
		s.releaseIovec(r.iov)
		r.iov = nil
	}
	s.free = append(s.free, r)

	if !wasShutdown {
		defer s.p.OnWorkFinished()
	}
	if cell != nil && cell.Valid() {
		cell.Run(res, flags)
	}
}

// CancelVia submits a poll-remove targeting the record identified by
// target, as issued to a caller by Handle.Iterate. The poll-remove's own
// completion is delivered through cont.
func (s *Service) CancelVia(target uintptr, cont api.Continuation) error {
	return s.Initiate(nil, func(sqe *uring.SQE, _ uintptr) {
		sqe.Opcode = uring.IORING_OP_POLL_REMOVE
		sqe.Addr = uint64(target)
	}, cont)
}
