package task_test

import (
	"testing"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/internal/task"
)

func TestCellRunInvokesOnce(t *testing.T) {
	calls := 0
	var lastRes int32
	c := task.New(api.Continuation{
		Invoke: func(res int32, flags uint32) { calls++; lastRes = res },
	})

	if !c.Valid() {
		t.Fatal("freshly constructed Cell should be Valid")
	}

	c.Run(7, 0)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if lastRes != 7 {
		t.Fatalf("lastRes = %d, want 7", lastRes)
	}
	if c.Valid() {
		t.Fatal("Cell should be invalid after Run")
	}

	c.Run(99, 0)
	if calls != 1 {
		t.Fatalf("second Run should be a no-op, calls = %d", calls)
	}
}

func TestCellTakeInvalidatesSource(t *testing.T) {
	calls := 0
	c := task.New(api.Continuation{
		Invoke: func(res int32, flags uint32) { calls++ },
	})

	moved := c.Take()
	if c.Valid() {
		t.Fatal("source Cell should be invalid after Take")
	}
	if !moved.Valid() {
		t.Fatal("moved Cell should be valid")
	}

	moved.Run(1, 0)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	c.Run(2, 0)
	if calls != 1 {
		t.Fatalf("running the emptied source should not invoke, calls = %d", calls)
	}
}

func TestCellResetSuppressesInvoke(t *testing.T) {
	calls := 0
	c := task.New(api.Continuation{
		Invoke: func(res int32, flags uint32) { calls++ },
	})
	c.Reset()
	c.Run(1, 0)
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after Reset", calls)
	}
}

func TestCellRunPostsThroughExecutor(t *testing.T) {
	var deferred func()
	exec := &fakeExecutor{deferFn: func(f func(), alloc api.Allocator) { deferred = f }}

	calls := 0
	c := task.New(api.Continuation{
		Executor: exec,
		Invoke:   func(res int32, flags uint32) { calls++ },
	})

	c.Run(0, 0)
	if calls != 0 {
		t.Fatal("Run with an associated executor must not invoke inline")
	}
	if deferred == nil {
		t.Fatal("expected Run to Defer onto the executor")
	}
	deferred()
	if calls != 1 {
		t.Fatalf("calls after running deferred = %d, want 1", calls)
	}
}

type fakeExecutor struct {
	deferFn func(f func(), alloc api.Allocator)
}

func (f *fakeExecutor) Dispatch(fn func(), alloc api.Allocator) { fn() }
func (f *fakeExecutor) Defer(fn func(), alloc api.Allocator)    { f.deferFn(fn, alloc) }
func (f *fakeExecutor) Post(fn func(), alloc api.Allocator)     { f.deferFn(fn, alloc) }
func (f *fakeExecutor) OnWorkStarted()                          {}
func (f *fakeExecutor) OnWorkFinished()                          {}
func (f *fakeExecutor) Equal(other api.Executor) bool            { return f == other }
