package streamfile

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/ioobject"
	"github.com/momentics/ioproactor/ioservice"
	"github.com/momentics/ioproactor/pollsync"
)

// ConnectFile wraps a non-blocking socket destined for an outbound connect.
type ConnectFile struct {
	a      *pollsync.Adapter
	shared *ioobject.SharedDescriptor
}

// NewConnectFile wraps fd, forcing it into non-blocking mode.
func NewConnectFile(svc *ioservice.Service, fd int32) (*ConnectFile, error) {
	if err := pollsync.EnsureNonBlocking(fd); err != nil {
		return nil, err
	}
	return &ConnectFile{a: pollsync.New(svc, fd), shared: ioobject.NewSharedDescriptor(fd)}, nil
}

// Handle exposes the underlying adapter's ownership-list handle.
func (f *ConnectFile) Handle() *ioservice.Handle { return f.a.Handle() }

// Close destroys the adapter's ownership list and drops this facade's own
// reference to the descriptor.
func (f *ConnectFile) Close() {
	f.a.Close()
	f.shared.Release()
}

// AsyncConnect attempts a non-blocking connect; on EINPROGRESS/EAGAIN it
// arms POLLOUT and reads SO_ERROR on readiness. A connect to an
// already-ready local peer may post its completion onto exec synchronously
// with respect to the kernel call; when exec is non-nil the poster never
// invokes cont from the calling frame directly — it always goes through
// exec. With a nil exec, cont runs inline from the calling frame.
func (f *ConnectFile) AsyncConnect(addr unix.Sockaddr, cont api.CompletionFunc, exec api.Executor, alloc api.Allocator) error {
	var err error
	run := ioobject.ReleaseOnce(f.shared, func() { cont(err) })
	return f.a.Connect(addr, func(e error) { err = e; run() }, exec, alloc)
}
