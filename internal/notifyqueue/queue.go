// Package notifyqueue implements the notification queue: an MPSC unbounded
// queue that hands callables from any thread to the proactor's driver
// thread, backed by an eventfd so a blocked driver wakes promptly when work
// arrives. A single short spinlock guards a ring-buffer-backed FIFO rather
// than a lock-free structure with a separate free list — the critical
// section is O(1) pointer bookkeeping, so the extra complexity of a
// lock-free variant buys nothing here.
package notifyqueue

import (
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/internal/evcount"
)

// Queue is the cross-thread callable queue. Its event counter doubles as
// both the "wake a blocked driver" signal and the "how many callables are
// pending" count the proactor's driver algorithm absorbs on each readiness
// event.
type Queue struct {
	counter *evcount.EventCounter
	lock    int32
	q       *queue.Queue
}

// New creates an empty Queue with its own reset-on-read event counter.
func New() (*Queue, error) {
	c, err := evcount.New(evcount.ResetOnRead)
	if err != nil {
		return nil, err
	}
	return &Queue{counter: c, q: queue.New()}, nil
}

// Fd returns the counter's fd, for the proactor to register a readiness
// poll against.
func (nq *Queue) Fd() int32 {
	return nq.counter.Fd()
}

// Close releases the underlying event counter.
func (nq *Queue) Close() error {
	return nq.counter.Close()
}

// Send enqueues item and bumps the pending counter, waking a blocked
// driver. Safe to call from any thread, including the driver thread.
func (nq *Queue) Send(item *api.WorkItem) error {
	nq.lockSpin()
	nq.q.Add(item)
	nq.unlockSpin()
	return nq.counter.Add(1)
}

// Pending consumes and returns the number of Sends observed since the last
// call, per the reset-on-read contract of the underlying event counter.
func (nq *Queue) Pending() (uint64, error) {
	return nq.counter.Consume()
}

// DrainUpTo invokes fn for up to n queued items, stopping early if the
// queue empties, and returns the number processed. Each item is unlinked
// from the queue before fn runs, so a panicking fn leaves queue state
// consistent for the next DrainUpTo call — the item is already gone either
// way.
func (nq *Queue) DrainUpTo(n int, fn func(*api.WorkItem)) int {
	processed := 0
	for processed < n {
		item, ok := nq.pop()
		if !ok {
			break
		}
		fn(item)
		processed++
	}
	return processed
}

func (nq *Queue) pop() (*api.WorkItem, bool) {
	nq.lockSpin()
	defer nq.unlockSpin()
	if nq.q.Length() == 0 {
		return nil, false
	}
	v := nq.q.Peek()
	nq.q.Remove()
	return v.(*api.WorkItem), true
}

func (nq *Queue) lockSpin() {
	for !atomic.CompareAndSwapInt32(&nq.lock, 0, 1) {
	}
}

func (nq *Queue) unlockSpin() {
	atomic.StoreInt32(&nq.lock, 0)
}
