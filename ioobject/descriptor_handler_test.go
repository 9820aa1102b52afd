package ioobject_test

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/ioobject"
)

func TestDescriptorHandlerReleasesBeforeInvoke(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[1])

	shared := ioobject.NewSharedDescriptor(int32(fds[0]))

	if shared.Fd() != int32(fds[0]) {
		t.Fatalf("Fd() = %d, want %d", shared.Fd(), fds[0])
	}

	var ran, releasedBeforeInvoke bool
	h := ioobject.New(shared, api.Continuation{
		Invoke: func(res int32, flags uint32) {
			ran = true
			// By the time this runs the handler must already have dropped
			// its own reference, so dropping the facade's reference here
			// is the last release and closes the descriptor.
			shared.Release()
			_, err := unix.FcntlInt(uintptr(fds[0]), unix.F_GETFD, 0)
			releasedBeforeInvoke = err == unix.EBADF
		},
	})

	h.Continuation().Invoke(0, 0)

	if !ran {
		t.Fatal("continuation never ran")
	}
	if !releasedBeforeInvoke {
		t.Fatal("handler still held its reference when the continuation ran")
	}
}

func TestDescriptorHandlerClosesOnLastRelease(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[1])

	shared := ioobject.NewSharedDescriptor(int32(fds[0]))
	h := ioobject.New(shared, api.Continuation{Invoke: func(int32, uint32) {}})

	h.Continuation().Invoke(0, 0) // drops the handler's reference
	shared.Release()              // drops the facade's own reference, closes fds[0]

	if _, err := unix.FcntlInt(uintptr(fds[0]), unix.F_GETFD, 0); err != unix.EBADF {
		t.Fatalf("fcntl after close: err = %v, want EBADF", err)
	}
}

func TestDescriptorHandlerPreservesExecutorAndAllocator(t *testing.T) {
	shared := ioobject.NewSharedDescriptor(-1)
	exec := &stubExecutor{}
	alloc := api.DefaultAllocator

	h := ioobject.New(shared, api.Continuation{
		Executor:  exec,
		Allocator: alloc,
		Invoke:    func(int32, uint32) {},
	})

	wrapped := h.Continuation()
	if wrapped.Executor != exec {
		t.Fatalf("Executor not preserved")
	}
	if wrapped.Allocator != alloc {
		t.Fatalf("Allocator not preserved")
	}
	shared.Release()
}

type stubExecutor struct{}

func (*stubExecutor) Dispatch(f func(), alloc api.Allocator) { f() }
func (*stubExecutor) Defer(f func(), alloc api.Allocator)    { f() }
func (*stubExecutor) Post(f func(), alloc api.Allocator)     { f() }
func (*stubExecutor) OnWorkStarted()                         {}
func (*stubExecutor) OnWorkFinished()                        {}
func (*stubExecutor) Equal(other api.Executor) bool          { return other == api.Executor(nil) }
