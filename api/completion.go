// api/completion.go
//
// Continuation signatures: every initiated operation's user-visible
// callback is one of these three shapes. Each carries its own associated
// executor/allocator so the service can honor them independently of the
// facade that issued the operation.
package api

// CompletionFunc is the void(err) continuation shape, used by poll and
// flush operations.
type CompletionFunc func(err error)

// TransferFunc is the void(err, bytes) continuation shape, used by
// read/write operations.
type TransferFunc func(err error, n int)

// AcceptFunc is the void(err, descriptor) continuation shape, used by
// accept.
type AcceptFunc func(err error, fd int)

// Continuation is a type-erased handle onto one of the shapes above plus
// its associated executor/allocator. Facades build one as a struct literal
// from a user-supplied callback and the executor/allocator passed alongside
// it before handing it to the service.
type Continuation struct {
	Executor  Executor
	Allocator Allocator
	Invoke    func(res int32, flags uint32)
}

// Post re-posts c onto its associated executor (or invokes it inline if it
// has none), honoring the allocator for the repost's intermediate storage.
func (c Continuation) Post(res int32, flags uint32) {
	if c.Executor == nil {
		c.Invoke(res, flags)
		return
	}
	c.Executor.Defer(func() { c.Invoke(res, flags) }, c.Allocator)
}
