// Package ioobject implements the descriptor-lifetime handler: the shared
// plumbing the stream/file facades use so that a descriptor is closed only
// once every operation that was in flight against it has either completed
// or dropped its reference, and never before the owning continuation
// starts running.
package ioobject

import (
	"sync/atomic"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/internal/fd"
)

// SharedDescriptor is a reference-counted internal/fd.Descriptor. A facade
// constructs one when it takes ownership of a raw fd; every operation it
// initiates acquires a reference via DescriptorHandler and drops it when
// the operation's continuation fires, so the descriptor closes exactly
// once, on whichever reference happens to be released last.
type SharedDescriptor struct {
	d    fd.Descriptor
	refs int32
}

// NewSharedDescriptor wraps raw with one initial reference, owned by the
// caller (typically the facade itself, for as long as it exists).
func NewSharedDescriptor(raw int32) *SharedDescriptor {
	return &SharedDescriptor{d: fd.New(raw), refs: 1}
}

// Fd returns the underlying raw descriptor value.
func (s *SharedDescriptor) Fd() int32 {
	return s.d.Int()
}

// Acquire adds one reference. Paired with exactly one Release.
func (s *SharedDescriptor) Acquire() {
	atomic.AddInt32(&s.refs, 1)
}

// Release drops one reference, closing the underlying descriptor when the
// count reaches zero.
func (s *SharedDescriptor) Release() {
	if atomic.AddInt32(&s.refs, -1) == 0 {
		s.d.Close()
	}
}

// ReleaseOnce acquires one reference to shared and returns fn wrapped so
// that the reference drops immediately before fn itself runs. This is
// DescriptorHandler's shape generalized to callbacks that are not already
// boxed as an api.Continuation — the facades built on pollsync.Adapter use
// this, since their continuations are typed (TransferFunc, CompletionFunc,
// AcceptFunc) rather than the raw (res, flags) shape DescriptorHandler
// wraps directly.
func ReleaseOnce(shared *SharedDescriptor, fn func()) func() {
	shared.Acquire()
	released := false
	return func() {
		if !released {
			released = true
			shared.Release()
		}
		fn()
	}
}

// DescriptorHandler pairs one strong reference to a SharedDescriptor with
// the user's continuation for one in-flight operation.
type DescriptorHandler struct {
	shared *SharedDescriptor
	cont   api.Continuation
}

// New acquires a reference to shared on behalf of cont, returning a handler
// whose Continuation drops that reference before cont runs.
func New(shared *SharedDescriptor, cont api.Continuation) *DescriptorHandler {
	shared.Acquire()
	return &DescriptorHandler{shared: shared, cont: cont}
}

// Continuation returns the wrapped continuation to hand to the service:
// Executor and Allocator are preserved unchanged from cont; Invoke first
// drops the handler's strong reference, then runs cont's Invoke.
func (h *DescriptorHandler) Continuation() api.Continuation {
	return api.Continuation{
		Executor:  h.cont.Executor,
		Allocator: h.cont.Allocator,
		Invoke: func(res int32, flags uint32) {
			shared := h.shared
			h.shared = nil
			if shared != nil {
				shared.Release()
			}
			h.cont.Invoke(res, flags)
		},
	}
}
