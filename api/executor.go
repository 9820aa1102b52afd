// api/executor.go
//
// Executor is the customization point through which a continuation
// requests where it runs. A Proactor's own executor is the canonical
// implementation; the service and the poll-then-sync adapter route their
// final invocations through whatever Executor is associated with a given
// continuation.
package api

// Executor schedules callables onto a specific execution context.
type Executor interface {
	// Dispatch invokes f inline if the caller is already running on this
	// executor's context, otherwise behaves like Post.
	Dispatch(f func(), alloc Allocator)

	// Defer enqueues f to run later on this executor's context; never
	// invoked synchronously from the calling frame.
	Defer(f func(), alloc Allocator)

	// Post is Defer's synonym kept for parity with the asio-style vocabulary
	// the continuations in this package are documented against.
	Post(f func(), alloc Allocator)

	// OnWorkStarted records one outstanding reason for the context to keep
	// running. Must be matched by exactly one OnWorkFinished.
	OnWorkStarted()

	// OnWorkFinished releases one outstanding reason recorded by
	// OnWorkStarted.
	OnWorkFinished()

	// Equal reports whether other refers to the same underlying context.
	Equal(other Executor) bool
}
