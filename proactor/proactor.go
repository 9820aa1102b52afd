// Package proactor implements the single-threaded event loop that owns an
// io_uring instance, accepts external work from other goroutines through a
// wakeup-coalesced notification queue, schedules submissions, reaps
// completions, and enforces the work-counter-driven "out of work"
// lifecycle the rest of this runtime's drivers are built on.
package proactor

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/internal/evcount"
	"github.com/momentics/ioproactor/internal/notifyqueue"
	"github.com/momentics/ioproactor/internal/uring"
	"golang.org/x/sys/unix"
)

// Reserved user-data values for the proactor's own internal pollers,
// distinguished from completion-record addresses by sitting at the very
// top of the uint64 range the same way the pack's io_uring wrappers mask
// off a poison-pill/wakeup sentinel from ordinary context ids.
const (
	userDataQueue uint64 = ^uint64(0)
	userDataStop  uint64 = ^uint64(0) - 1
	userDataZero  uint64 = ^uint64(0) - 2
)

// Fixed-file indices the three internal fds are registered under, in this
// exact order, at construction — see New's RegisterFiles call.
const (
	fixedFileQueue int32 = 0
	fixedFileStop  int32 = 1
	fixedFileZero  int32 = 2
)

// Proactor is the execution context: ring, notification queue, the three
// internal readiness pollers, and the atomic work/stop bookkeeping that
// Run/RunOne/Poll/PollOne share.
type Proactor struct {
	ring   *uring.Ring
	notify *notifyqueue.Queue
	stopC  *evcount.EventCounter
	zeroC  *evcount.EventCounter

	workCounter     int64
	stopped         int32
	driverGoroutine uint64

	queueArmed int32
	stopArmed  int32
	zeroArmed  int32

	// pending counts callables observed via the queue's last readiness
	// event but not yet drained; driver-thread-only, no atomics needed.
	pending int64

	completionHandler func(userData uint64, res int32, flags uint32)
}

// New installs a ring of the given submission queue depth, creates the
// three internal fds, registers them as fixed files at indices 0 (notify
// queue), 1 (stop), 2 (zero-work) via IORING_REGISTER_FILES, and arms one
// readiness poll against each by fixed-file index.
func New(entries uint32) (*Proactor, error) {
	r, err := uring.Setup(entries)
	if err != nil {
		return nil, fmt.Errorf("proactor: ring setup: %w", err)
	}
	nq, err := notifyqueue.New()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("proactor: notify queue: %w", err)
	}
	stopC, err := evcount.New(evcount.ResetOnRead)
	if err != nil {
		nq.Close()
		r.Close()
		return nil, fmt.Errorf("proactor: stop counter: %w", err)
	}
	zeroC, err := evcount.New(evcount.ResetOnRead)
	if err != nil {
		stopC.Close()
		nq.Close()
		r.Close()
		return nil, fmt.Errorf("proactor: zero-work counter: %w", err)
	}

	if err := r.RegisterFiles([]int32{nq.Fd(), stopC.Fd(), zeroC.Fd()}); err != nil {
		zeroC.Close()
		stopC.Close()
		nq.Close()
		r.Close()
		return nil, fmt.Errorf("proactor: register fixed files: %w", err)
	}

	p := &Proactor{ring: r, notify: nq, stopC: stopC, zeroC: zeroC}
	p.Restart()
	return p, nil
}

// OnCompletion registers the callback the driver invokes for every
// completion whose user-data is not one of the three internal sentinels.
// The I/O object service calls this once, at construction, to receive
// completions for its own records — keeping this package free of any
// dependency on the service's record layout.
func (p *Proactor) OnCompletion(fn func(userData uint64, res int32, flags uint32)) {
	p.completionHandler = fn
}

// Executor returns a handle onto this Proactor's execution context.
func (p *Proactor) Executor() api.Executor {
	return &executor{p: p}
}

// GetSubmissionEntry obtains a submission queue slot, submitting any
// already-reserved entries first to make room. Fails hard (no retry) when
// the ring is exhausted; callers that need retry semantics must implement
// their own backoff — this runtime does not, by design (see the
// deferred-submission open question in the design notes).
func (p *Proactor) GetSubmissionEntry() (*uring.SQE, error) {
	if sqe := p.ring.GetSQE(); sqe != nil {
		return sqe, nil
	}
	if _, err := p.ring.Submit(); err != nil {
		return nil, err
	}
	if sqe := p.ring.GetSQE(); sqe != nil {
		return sqe, nil
	}
	return nil, api.ErrNoSQE
}

// Submit flushes every submission queue entry reserved since the last
// Submit to the kernel.
func (p *Proactor) Submit() (uint32, error) {
	return p.ring.Submit()
}

// Stop requests that any driver currently blocked in the kernel, or about
// to enter it, return promptly. Thread-safe.
func (p *Proactor) Stop() {
	atomic.StoreInt32(&p.stopped, 1)
	if err := p.stopC.Add(1); err != nil {
		panic(fmt.Errorf("proactor: stop counter add: %w", err))
	}
}

// Restart idempotently re-arms whichever of the three internal pollers
// completed during the previous driver invocation, and clears the stopped
// flag.
func (p *Proactor) Restart() {
	atomic.StoreInt32(&p.stopped, 0)
	p.rearm(&p.queueArmed, userDataQueue, fixedFileQueue)
	p.rearm(&p.stopArmed, userDataStop, fixedFileStop)
	p.rearm(&p.zeroArmed, userDataZero, fixedFileZero)
	if _, err := p.ring.Submit(); err != nil {
		panic(fmt.Errorf("proactor: submitting internal re-arms: %w", err))
	}
}

// rearm arms a POLLIN wait against one of the three fixed-file indices New
// registered, not a raw fd: every internal poller's SQE sets
// IOSQE_FIXED_FILE and carries that index in Fd.
func (p *Proactor) rearm(armed *int32, userData uint64, fixedIndex int32) {
	if atomic.LoadInt32(armed) != 0 {
		return
	}
	sqe, err := p.GetSubmissionEntry()
	if err != nil {
		// spec'd as a hard, non-retryable failure: an internal poller
		// that cannot be re-armed leaves the proactor's liveness
		// invariant broken, so this is fatal rather than returned.
		panic(fmt.Errorf("proactor: internal poller re-arm: %w", err))
	}
	sqe.Opcode = uring.IORING_OP_POLL_ADD
	sqe.Fd = fixedIndex
	sqe.Flags |= uring.IOSQE_FIXED_FILE
	sqe.OpFlags = unix.POLLIN
	sqe.UserData = userData
	atomic.StoreInt32(armed, 1)
}

// WorkCounter returns the current outstanding-work count: the same value
// OnWorkStarted/OnWorkFinished maintain to decide when a driver is out of
// work. Safe to call from any goroutine.
func (p *Proactor) WorkCounter() int64 {
	return atomic.LoadInt64(&p.workCounter)
}

// Stopped reports whether Stop has been called and not yet cleared by
// Restart. Safe to call from any goroutine.
func (p *Proactor) Stopped() bool {
	return atomic.LoadInt32(&p.stopped) != 0
}

// RunningInThisThread reports whether the calling goroutine is currently
// executing inside one of this Proactor's drivers.
func (p *Proactor) RunningInThisThread() bool {
	id := atomic.LoadUint64(&p.driverGoroutine)
	return id != 0 && id == goroutineID()
}

// OnWorkStarted records one outstanding reason to keep running.
func (p *Proactor) OnWorkStarted() {
	atomic.AddInt64(&p.workCounter, 1)
}

// OnWorkFinished releases one outstanding reason recorded by
// OnWorkStarted. When the counter reaches zero, bumps the zero-work
// counter so a blocked driver wakes and treats itself as out of work.
func (p *Proactor) OnWorkFinished() {
	n := atomic.AddInt64(&p.workCounter, -1)
	if n < 0 {
		panic("proactor: work counter went negative")
	}
	if n == 0 {
		if err := p.zeroC.Add(1); err != nil {
			panic(fmt.Errorf("proactor: zero-work counter add: %w", err))
		}
	}
}

func (p *Proactor) post(f func(), alloc api.Allocator) {
	a := api.Resolve(alloc)
	item := a.Get()
	item.Fn = f
	item.Alloc = a
	p.OnWorkStarted()
	if err := p.notify.Send(item); err != nil {
		p.OnWorkFinished()
		item.Recycle()
		panic(fmt.Errorf("proactor: notify queue send: %w", err))
	}
}

// Run drains cross-thread callables and ring completions, blocking in the
// kernel between batches, until out of work or stopped. Returns the number
// of user-visible handlers invoked.
func (p *Proactor) Run() (int, error) { return p.drive(true, false) }

// RunOne is Run, returning after the first handler.
func (p *Proactor) RunOne() (int, error) { return p.drive(true, true) }

// Poll is Run without blocking: it peeks the ring rather than waiting.
func (p *Proactor) Poll() (int, error) { return p.drive(false, false) }

// PollOne is Poll, returning after the first handler.
func (p *Proactor) PollOne() (int, error) { return p.drive(false, true) }

func (p *Proactor) drive(wait, once bool) (int, error) {
	if atomic.LoadInt32(&p.stopped) != 0 || atomic.LoadInt64(&p.workCounter) == 0 {
		atomic.StoreInt32(&p.stopped, 1)
		return 0, nil
	}

	atomic.StoreUint64(&p.driverGoroutine, goroutineID())
	defer atomic.StoreUint64(&p.driverGoroutine, 0)

	handled := 0
	drain := func() {
		for p.pending > 0 {
			limit := int(p.pending)
			if once {
				limit = 1
			}
			n := p.notify.DrainUpTo(limit, func(w *api.WorkItem) {
				fn := w.Fn
				w.Recycle()
				defer p.OnWorkFinished()
				fn()
			})
			if n == 0 {
				break
			}
			p.pending -= int64(n)
			handled += n
			if once {
				return
			}
		}
	}
	drain()

	for {
		if once && handled > 0 {
			return handled, nil
		}
		if atomic.LoadInt32(&p.stopped) != 0 {
			return handled, nil
		}

		p.rearm(&p.queueArmed, userDataQueue, fixedFileQueue)

		var cqe *uring.CQE
		var err error
		if wait {
			if _, err = p.ring.Submit(); err != nil {
				return handled, err
			}
			cqe, err = p.ring.WaitCQE()
			if err != nil {
				return handled, err
			}
		} else {
			if _, err = p.ring.Submit(); err != nil {
				return handled, err
			}
			cqe = p.ring.PeekCQE()
			if cqe == nil {
				return handled, nil
			}
		}

		switch cqe.UserData {
		case userDataQueue:
			atomic.StoreInt32(&p.queueArmed, 0)
			n, cerr := p.notify.Pending()
			p.ring.SeenCQE(cqe)
			if cerr != nil {
				return handled, cerr
			}
			p.pending += int64(n)
			drain()
		case userDataStop:
			atomic.StoreInt32(&p.stopArmed, 0)
			_, cerr := p.stopC.Consume()
			p.ring.SeenCQE(cqe)
			if cerr != nil {
				return handled, cerr
			}
			if atomic.LoadInt32(&p.stopped) != 0 {
				return handled, nil
			}
			p.rearm(&p.stopArmed, userDataStop, fixedFileStop)
		case userDataZero:
			atomic.StoreInt32(&p.zeroArmed, 0)
			_, cerr := p.zeroC.Consume()
			p.ring.SeenCQE(cqe)
			if cerr != nil {
				return handled, cerr
			}
			if atomic.LoadInt64(&p.workCounter) == 0 {
				atomic.StoreInt32(&p.stopped, 1)
				return handled, nil
			}
			p.rearm(&p.zeroArmed, userDataZero, fixedFileZero)
		default:
			ud, res, flags := cqe.UserData, cqe.Res, cqe.Flags
			p.ring.SeenCQE(cqe)
			if p.completionHandler != nil {
				p.completionHandler(ud, res, flags)
			}
			handled++
		}
	}
}

// Close tears down the ring and the internal event counters. The caller
// must ensure no driver is running and the work counter is zero first.
func (p *Proactor) Close() error {
	var firstErr error
	if err := p.notify.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.stopC.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.zeroC.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.ring.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// goroutineID returns the calling goroutine's runtime id, parsed from its
// own stack trace header. Used only to implement RunningInThisThread; this
// runtime has no other use for goroutine identity.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

type executor struct {
	p *Proactor
}

func (e *executor) Dispatch(f func(), alloc api.Allocator) {
	if e.p.RunningInThisThread() {
		f()
		return
	}
	e.p.post(f, alloc)
}

func (e *executor) Defer(f func(), alloc api.Allocator) { e.p.post(f, alloc) }
func (e *executor) Post(f func(), alloc api.Allocator)  { e.p.post(f, alloc) }
func (e *executor) OnWorkStarted()                      { e.p.OnWorkStarted() }
func (e *executor) OnWorkFinished()                     { e.p.OnWorkFinished() }

func (e *executor) Equal(other api.Executor) bool {
	oe, ok := other.(*executor)
	return ok && oe.p == e.p
}
