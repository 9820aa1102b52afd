// Package fd implements the owned kernel file descriptor: an integer
// handle with at most one owner, dropping to close(2) on destruction, with
// move-only semantics realized as an explicit Take.
package fd

import "golang.org/x/sys/unix"

// Invalid is the sentinel value for a Descriptor that owns nothing.
const Invalid int32 = -1

// Descriptor is a move-only owned kernel file descriptor.
//
// fd stores the raw descriptor shifted up by one, so that a zero-value
// Descriptor (fd == 0) means "owns nothing" even though 0 is itself a
// valid kernel fd (stdin). This keeps the zero value safe without forcing
// every caller through a constructor.
type Descriptor struct {
	fd int32
}

// New wraps an already-open fd as an owned Descriptor.
func New(raw int32) Descriptor {
	return Descriptor{fd: raw + 1}
}

// Int returns the raw fd value, or Invalid if the Descriptor owns nothing.
func (d *Descriptor) Int() int32 {
	if d.fd == 0 {
		return Invalid
	}
	return d.fd - 1
}

// Valid reports whether the Descriptor currently owns an open fd.
func (d *Descriptor) Valid() bool {
	return d.fd != 0
}

// Take transfers ownership out of d into the returned Descriptor, leaving d
// Invalid. This is the Go realization of C++ move semantics for this type.
func (d *Descriptor) Take() Descriptor {
	out := Descriptor{fd: d.fd}
	d.fd = 0
	return out
}

// Close releases the owned fd, if any, and marks d Invalid. Closing an
// already-Invalid Descriptor, including a zero-value one, is a no-op.
func (d *Descriptor) Close() error {
	if !d.Valid() {
		return nil
	}
	fdv := d.Int()
	d.fd = 0
	return unix.Close(int(fdv))
}
