package streamfile

import (
	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/ioobject"
	"github.com/momentics/ioproactor/ioservice"
	"github.com/momentics/ioproactor/pollsync"
)

// PollFile wraps a non-regular descriptor (pipe, socket) for readiness
// polls and poll-then-sync reads/writes, built on pollsync.Adapter.
type PollFile struct {
	a      *pollsync.Adapter
	shared *ioobject.SharedDescriptor
}

// NewPollFile wraps fd, forcing it into non-blocking mode.
func NewPollFile(svc *ioservice.Service, fd int32) (*PollFile, error) {
	if err := pollsync.EnsureNonBlocking(fd); err != nil {
		return nil, err
	}
	return &PollFile{a: pollsync.New(svc, fd), shared: ioobject.NewSharedDescriptor(fd)}, nil
}

// Handle exposes the underlying adapter's ownership-list handle.
func (f *PollFile) Handle() *ioservice.Handle { return f.a.Handle() }

// Close destroys the adapter's ownership list and drops this facade's own
// reference to the descriptor.
func (f *PollFile) Close() {
	f.a.Close()
	f.shared.Release()
}

// AsyncReadSome performs a poll-then-sync read across buffers.
func (f *PollFile) AsyncReadSome(buffers [][]byte, cont api.TransferFunc, exec api.Executor, alloc api.Allocator) error {
	var err error
	var n int
	run := ioobject.ReleaseOnce(f.shared, func() { cont(err, n) })
	return f.a.ReadSome(buffers, func(e error, nn int) { err, n = e, nn; run() }, exec, alloc)
}

// AsyncWriteSome performs a poll-then-sync write across buffers.
func (f *PollFile) AsyncWriteSome(buffers [][]byte, cont api.TransferFunc, exec api.Executor, alloc api.Allocator) error {
	var err error
	var n int
	run := ioobject.ReleaseOnce(f.shared, func() { cont(err, n) })
	return f.a.WriteSome(buffers, func(e error, nn int) { err, n = e, nn; run() }, exec, alloc)
}

// AsyncPollIn arms a POLLIN readiness wait without performing any transfer.
func (f *PollFile) AsyncPollIn(cont api.CompletionFunc, exec api.Executor, alloc api.Allocator) error {
	var err error
	run := ioobject.ReleaseOnce(f.shared, func() { cont(err) })
	return f.a.PollIn(func(e error) { err = e; run() }, exec, alloc)
}

// AsyncPollOut arms a POLLOUT readiness wait without performing any transfer.
func (f *PollFile) AsyncPollOut(cont api.CompletionFunc, exec api.Executor, alloc api.Allocator) error {
	var err error
	run := ioobject.ReleaseOnce(f.shared, func() { cont(err) })
	return f.a.PollOut(func(e error) { err = e; run() }, exec, alloc)
}
