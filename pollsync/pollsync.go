// Package pollsync implements the poll-then-sync adapter: for descriptors
// where io_uring's own readv/writev does not match typical streaming
// semantics well (sockets, pipes, and similar non-regular descriptors), it
// arms a readiness poll through the ring and then performs the actual byte
// transfer with a plain non-blocking syscall in user space.
//
// The two-step wait-ready/perform-sync pattern below generalizes the kind
// of submit-then-fall-back-to-a-direct-syscall shape a hand-rolled io_uring
// transport ends up needing whenever a socket or pipe won't reliably
// complete a vectored transfer through the ring alone.
package pollsync

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/internal/uring"
	"github.com/momentics/ioproactor/ioservice"
)

// Adapter binds one non-blocking descriptor to a Service/Handle pair.
type Adapter struct {
	svc *ioservice.Service
	h   *ioservice.Handle
	fd  int32
}

// New wraps fd, which must already be in non-blocking mode (callers use
// EnsureNonBlocking to enforce this at construction, matching the "enforced
// at construction by reading file-status flags" contract).
func New(svc *ioservice.Service, fd int32) *Adapter {
	return &Adapter{svc: svc, h: svc.Construct(), fd: fd}
}

// Handle exposes the adapter's ownership-list handle, for cancellation.
func (a *Adapter) Handle() *ioservice.Handle { return a.h }

// Close destroys the adapter's ownership list without cancelling any
// outstanding operations, per Handle.Destroy's contract.
func (a *Adapter) Close() {
	a.h.Destroy()
}

// EnsureNonBlocking reads fd's file-status flags and sets O_NONBLOCK if not
// already set, raising on failure — the adapter's precondition.
func EnsureNonBlocking(fd int32) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if flags&unix.O_NONBLOCK != 0 {
		return nil
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
	return err
}

func totalLen(buffers [][]byte) int {
	n := 0
	for _, b := range buffers {
		n += len(b)
	}
	return n
}

// ReadSome performs async_read_some: if the buffer sequence is empty,
// posts a synthetic zero-byte success immediately; otherwise arms a POLLIN
// readiness poll and, on readiness, performs the non-blocking transfer.
func (a *Adapter) ReadSome(buffers [][]byte, cont api.TransferFunc, exec api.Executor, alloc api.Allocator) error {
	return a.transfer(unix.POLLIN, buffers, readBuffers, cont, exec, alloc)
}

// WriteSome performs async_write_some, the POLLOUT counterpart of ReadSome.
func (a *Adapter) WriteSome(buffers [][]byte, cont api.TransferFunc, exec api.Executor, alloc api.Allocator) error {
	return a.transfer(unix.POLLOUT, buffers, writeBuffers, cont, exec, alloc)
}

// PollIn arms a POLLIN readiness wait and invokes cont once it is ready or
// errors, without performing any transfer.
func (a *Adapter) PollIn(cont api.CompletionFunc, exec api.Executor, alloc api.Allocator) error {
	return a.pollOnly(unix.POLLIN, cont, exec, alloc)
}

// PollOut is PollIn's POLLOUT counterpart.
func (a *Adapter) PollOut(cont api.CompletionFunc, exec api.Executor, alloc api.Allocator) error {
	return a.pollOnly(unix.POLLOUT, cont, exec, alloc)
}

func (a *Adapter) pollOnly(mask uint32, cont api.CompletionFunc, exec api.Executor, alloc api.Allocator) error {
	wrapped := api.Continuation{
		Executor:  exec,
		Allocator: alloc,
		Invoke: func(res int32, flags uint32) {
			_, cancelled, err := ioservice.PollAddResult(res)
			if cancelled {
				cont(api.ErrOperationAborted)
				return
			}
			cont(err)
		},
	}
	return a.svc.Initiate(a.h, func(sqe *uring.SQE, userData uintptr) {
		sqe.Opcode = uring.IORING_OP_POLL_ADD
		sqe.Fd = a.fd
		sqe.OpFlags = mask
	}, wrapped)
}

type transferFn func(fd int32, buffers [][]byte) (int, error)

func (a *Adapter) transfer(mask uint32, buffers [][]byte, do transferFn, cont api.TransferFunc, exec api.Executor, alloc api.Allocator) error {
	if totalLen(buffers) == 0 {
		postTransfer(exec, alloc, cont, nil, 0)
		return nil
	}

	wrapped := api.Continuation{
		Executor:  exec,
		Allocator: alloc,
		Invoke: func(res int32, flags uint32) {
			_, cancelled, err := ioservice.PollAddResult(res)
			if cancelled {
				cont(api.ErrOperationAborted, 0)
				return
			}
			if err != nil {
				cont(err, 0)
				return
			}
			n, terr := do(a.fd, buffers)
			cont(terr, n)
		},
	}
	return a.svc.Initiate(a.h, func(sqe *uring.SQE, userData uintptr) {
		sqe.Opcode = uring.IORING_OP_POLL_ADD
		sqe.Fd = a.fd
		sqe.OpFlags = mask
	}, wrapped)
}

// readBuffers performs the non-blocking transfer: iterate over buffers,
// reading into each, stopping on the first short read or EAGAIN.
func readBuffers(fd int32, buffers [][]byte) (int, error) {
	total := 0
	for _, b := range buffers {
		if len(b) == 0 {
			continue
		}
		n, err := unix.Read(int(fd), b)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return total, nil
			}
			return total, err
		}
		total += n
		if n < len(b) {
			break
		}
	}
	return total, nil
}

func writeBuffers(fd int32, buffers [][]byte) (int, error) {
	total := 0
	for _, b := range buffers {
		if len(b) == 0 {
			continue
		}
		n, err := unix.Write(int(fd), b)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return total, nil
			}
			return total, err
		}
		total += n
		if n < len(b) {
			break
		}
	}
	return total, nil
}

// Accept arms POLLIN, then on readiness performs a non-blocking accept4;
// on EAGAIN it re-arms and waits again. If addr is non-nil, the peer
// address accept4 returns alongside the new descriptor is stored into
// *addr before cont runs; a nil addr skips that assignment entirely,
// mirroring accept4(fd, nullptr, nullptr, flags).
func (a *Adapter) Accept(addr *unix.Sockaddr, cont api.AcceptFunc, exec api.Executor, alloc api.Allocator) error {
	var armAndWait func() error
	armAndWait = func() error {
		wrapped := api.Continuation{
			Executor:  exec,
			Allocator: alloc,
			Invoke: func(res int32, flags uint32) {
				_, cancelled, err := ioservice.PollAddResult(res)
				if cancelled {
					cont(api.ErrOperationAborted, -1)
					return
				}
				if err != nil {
					cont(err, -1)
					return
				}
				connFd, peer, aerr := unix.Accept4(int(a.fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
				if aerr != nil {
					if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK {
						if rearmErr := armAndWait(); rearmErr != nil {
							cont(rearmErr, -1)
						}
						return
					}
					cont(aerr, -1)
					return
				}
				if addr != nil {
					*addr = peer
				}
				cont(nil, connFd)
			},
		}
		return a.svc.Initiate(a.h, func(sqe *uring.SQE, userData uintptr) {
			sqe.Opcode = uring.IORING_OP_POLL_ADD
			sqe.Fd = a.fd
			sqe.OpFlags = unix.POLLIN
		}, wrapped)
	}
	return armAndWait()
}

// Connect has an asymmetric skeleton: attempt a non-blocking connect; if it
// completes immediately, post success; if it returns EINPROGRESS/EAGAIN,
// arm POLLOUT and read SO_ERROR on readiness.
func (a *Adapter) Connect(addr unix.Sockaddr, cont api.CompletionFunc, exec api.Executor, alloc api.Allocator) error {
	err := unix.Connect(int(a.fd), addr)
	if err == nil {
		postCompletion(exec, alloc, cont, nil)
		return nil
	}
	if err != unix.EINPROGRESS && err != unix.EAGAIN {
		postCompletion(exec, alloc, cont, err)
		return nil
	}

	wrapped := api.Continuation{
		Executor:  exec,
		Allocator: alloc,
		Invoke: func(res int32, flags uint32) {
			_, cancelled, perr := ioservice.PollAddResult(res)
			if cancelled {
				cont(api.ErrOperationAborted)
				return
			}
			if perr != nil {
				cont(perr)
				return
			}
			soErr, gerr := unix.GetsockoptInt(int(a.fd), unix.SOL_SOCKET, unix.SO_ERROR)
			if gerr != nil {
				cont(gerr)
				return
			}
			if soErr != 0 {
				cont(unix.Errno(soErr))
				return
			}
			cont(nil)
		},
	}
	return a.svc.Initiate(a.h, func(sqe *uring.SQE, userData uintptr) {
		sqe.Opcode = uring.IORING_OP_POLL_ADD
		sqe.Fd = a.fd
		sqe.OpFlags = unix.POLLOUT
	}, wrapped)
}

func postTransfer(exec api.Executor, alloc api.Allocator, cont api.TransferFunc, err error, n int) {
	api.Continuation{
		Executor:  exec,
		Allocator: alloc,
		Invoke:    func(int32, uint32) { cont(err, n) },
	}.Post(0, 0)
}

func postCompletion(exec api.Executor, alloc api.Allocator, cont api.CompletionFunc, err error) {
	api.Continuation{
		Executor:  exec,
		Allocator: alloc,
		Invoke:    func(int32, uint32) { cont(err) },
	}.Post(0, 0)
}
