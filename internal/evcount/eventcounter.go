// Package evcount wraps a kernel eventfd(2) counter: a descriptor plus an
// active/closed lifecycle, supporting a saturating Add and a Consume that
// reports the accumulated count since the last Consume.
package evcount

import (
	"encoding/binary"

	"github.com/momentics/ioproactor/internal/fd"
	"golang.org/x/sys/unix"
)

// Mode selects the eventfd semantics used for Consume.
type Mode int

const (
	// ResetOnRead consumes the entire accumulated counter value on read,
	// the mode the proactor uses for its wakeup and stop counters and the
	// notification queue's pending counter.
	ResetOnRead Mode = iota
	// Semaphore decrements the counter by exactly one per read (EFD_SEMAPHORE).
	Semaphore
)

// EventCounter owns an eventfd and tracks whether it has been closed.
type EventCounter struct {
	d      fd.Descriptor
	active bool
}

// New creates an EventCounter in the given mode, starting at value 0.
func New(mode Mode) (*EventCounter, error) {
	flags := unix.EFD_CLOEXEC | unix.EFD_NONBLOCK
	if mode == Semaphore {
		flags |= unix.EFD_SEMAPHORE
	}
	raw, err := unix.Eventfd(0, flags)
	if err != nil {
		return nil, err
	}
	return &EventCounter{d: fd.New(int32(raw)), active: true}, nil
}

// Fd returns the underlying kernel fd, for registering readiness polls.
func (c *EventCounter) Fd() int32 {
	return c.d.Int()
}

// Add performs a saturating 64-bit add to the kernel-side counter. Per
// eventfd(2), writing a value that would overflow the counter past
// 0xfffffffffffffffe blocks (or, in non-blocking mode, returns EAGAIN); this
// runtime's counters never approach that bound in practice, so EAGAIN here
// is treated as a logic error and returned as-is.
func (c *EventCounter) Add(n uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], n)
	_, err := unix.Write(int(c.d.Int()), buf[:])
	return err
}

// Consume reads the counter, returning the accumulated value (ResetOnRead)
// or 1 (Semaphore, on success), and 0 with no error if the counter was not
// yet readable (EAGAIN).
func (c *EventCounter) Consume() (uint64, error) {
	var buf [8]byte
	_, err := unix.Read(int(c.d.Int()), buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return 0, err
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Close releases the eventfd. Active becomes false; a second Close is a
// no-op via the underlying Descriptor's own no-op-on-invalid rule.
func (c *EventCounter) Close() error {
	c.active = false
	return c.d.Close()
}

// Active reports whether the counter has not yet been Closed.
func (c *EventCounter) Active() bool {
	return c.active
}
