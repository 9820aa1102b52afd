package streamfile

import (
	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/ioobject"
	"github.com/momentics/ioproactor/ioservice"
	"github.com/momentics/ioproactor/pollsync"
	"golang.org/x/sys/unix"
)

// AcceptFile wraps a non-blocking listening socket.
type AcceptFile struct {
	a      *pollsync.Adapter
	shared *ioobject.SharedDescriptor
}

// NewAcceptFile wraps fd, which must already be a listening socket.
func NewAcceptFile(svc *ioservice.Service, fd int32) (*AcceptFile, error) {
	if err := pollsync.EnsureNonBlocking(fd); err != nil {
		return nil, err
	}
	return &AcceptFile{a: pollsync.New(svc, fd), shared: ioobject.NewSharedDescriptor(fd)}, nil
}

// Handle exposes the underlying adapter's ownership-list handle.
func (f *AcceptFile) Handle() *ioservice.Handle { return f.a.Handle() }

// Close destroys the adapter's ownership list and drops this facade's own
// reference to the descriptor.
func (f *AcceptFile) Close() {
	f.a.Close()
	f.shared.Release()
}

// AsyncAccept arms a POLLIN wait and, on readiness, performs a non-blocking
// accept4 with SOCK_NONBLOCK|SOCK_CLOEXEC, re-arming on EAGAIN. Equivalent to
// calling AsyncAcceptAddr with a nil address out-parameter.
func (f *AcceptFile) AsyncAccept(cont api.AcceptFunc, exec api.Executor, alloc api.Allocator) error {
	return f.AsyncAcceptAddr(nil, cont, exec, alloc)
}

// AsyncAcceptAddr is AsyncAccept, additionally storing the accepted peer's
// address into *addr (when addr is non-nil) before cont runs. addr is left
// untouched if the operation fails.
func (f *AcceptFile) AsyncAcceptAddr(addr *unix.Sockaddr, cont api.AcceptFunc, exec api.Executor, alloc api.Allocator) error {
	var err error
	var connFd int
	run := ioobject.ReleaseOnce(f.shared, func() { cont(err, connFd) })
	return f.a.Accept(addr, func(e error, fd int) { err, connFd = e, fd; run() }, exec, alloc)
}
