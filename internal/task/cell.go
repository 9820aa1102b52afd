// Package task implements the type-erased, move-only, single-shot callable
// cell that every initiated operation's continuation is boxed into before
// it crosses the ring's completion path. Go closures are already heap
// boxed, so there is no small-buffer slot to manage here; what this type
// actually owns is the single-shot discipline (a Cell runs at most once)
// and the associated executor/allocator pairing carried alongside the
// closure, per api.Continuation.
package task

import "github.com/momentics/ioproactor/api"

// Cell holds exactly one pending invocation. Constructing one from an
// api.Continuation captures the executor/allocator association; Run clears
// the cell before invoking so a reentrant or double Run is a no-op rather
// than a double-invoke.
type Cell struct {
	cont api.Continuation
	done bool
}

// New wraps cont in a fresh, pending Cell.
func New(cont api.Continuation) *Cell {
	return &Cell{cont: cont}
}

// Valid reports whether the Cell has not yet been run or reset.
func (c *Cell) Valid() bool {
	return !c.done && c.cont.Invoke != nil
}

// Take transfers the pending invocation out of c into the returned Cell,
// leaving c empty. The Go realization of this type's move-only contract.
func (c *Cell) Take() *Cell {
	out := &Cell{cont: c.cont}
	c.cont = api.Continuation{}
	c.done = true
	return out
}

// Run invokes the held continuation's Post exactly once with the given
// completion result, honoring its associated executor. Calling Run on an
// already-run or empty Cell is a no-op.
func (c *Cell) Run(res int32, flags uint32) {
	if !c.Valid() {
		return
	}
	c.done = true
	cont := c.cont
	c.cont = api.Continuation{}
	cont.Post(res, flags)
}

// Reset discards the held continuation without invoking it, used when an
// operation is being torn down (e.g. Shutdown) and its outstanding
// continuations must not fire.
func (c *Cell) Reset() {
	c.cont = api.Continuation{}
	c.done = true
}
