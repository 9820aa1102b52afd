// api/errors.go
//
// Error vocabulary for the proactor runtime. System errno values are
// surfaced as-is (golang.org/x/sys/unix.Errno already satisfies error);
// these sentinels cover conditions the runtime itself synthesizes rather
// than conditions a syscall reports directly.
package api

import "errors"

var (
	// ErrOperationAborted is synthesized when a poll-add completes with a
	// zero result, which this runtime treats as the signature of a matched
	// poll-remove cancellation.
	ErrOperationAborted = errors.New("ioproactor: operation aborted")

	// ErrNoSQE is returned by Proactor.GetSubmissionEntry when the ring is
	// full; callers of the public API do not retry automatically.
	ErrNoSQE = errors.New("ioproactor: no submission queue entry available")

	// ErrClosed names the condition of an operation attempted after the
	// owning proactor or service has been shut down. No code path in this
	// module returns it.
	ErrClosed = errors.New("ioproactor: closed")

	// ErrNotFound names the condition of a poll-remove that targets a
	// user-data value no longer in flight. No code path in this module
	// returns it: the kernel reports that case as ENOENT, which
	// ioservice.SimpleResult passes through as unix.ENOENT.
	ErrNotFound = errors.New("ioproactor: completion record not found")
)

// IsAborted reports whether err is the cancellation sentinel.
func IsAborted(err error) bool {
	return errors.Is(err, ErrOperationAborted)
}
