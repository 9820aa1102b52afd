// Package streamfile implements the stream and file facades: thin objects
// binding one descriptor to a Service/Handle pair and exposing the
// asio-style async_* vocabulary. AsyncFile targets regular files, where
// io_uring's own readv/writev/fsync at an explicit offset apply directly —
// unlike PollFile, it never goes through the poll-then-sync adapter.
package streamfile

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/internal/uring"
	"github.com/momentics/ioproactor/ioobject"
	"github.com/momentics/ioproactor/ioservice"
)

// AsyncFile wraps a regular file descriptor for offset-addressed vectored
// I/O and flush.
type AsyncFile struct {
	svc    *ioservice.Service
	h      *ioservice.Handle
	shared *ioobject.SharedDescriptor
}

// NewAsyncFile wraps fd, which must already refer to a regular file opened
// with the access mode the caller intends to use.
func NewAsyncFile(svc *ioservice.Service, fd int32) *AsyncFile {
	return &AsyncFile{svc: svc, h: svc.Construct(), shared: ioobject.NewSharedDescriptor(fd)}
}

// Handle exposes the facade's ownership-list handle, for cancellation.
func (f *AsyncFile) Handle() *ioservice.Handle { return f.h }

// Close destroys the facade's ownership list and drops its own reference
// to the underlying descriptor; the descriptor closes once every in-flight
// operation's own reference has also dropped.
func (f *AsyncFile) Close() {
	f.h.Destroy()
	f.shared.Release()
}

func iovecAddr(iov []unix.Iovec) uint64 {
	return uint64(uintptr(unsafe.Pointer(&iov[0])))
}

// AsyncReadSomeAt submits a vectored read at offset. A read at or past
// end-of-file completes with zero bytes and no error, per the kernel's own
// readv semantics — no special-casing is required here.
func (f *AsyncFile) AsyncReadSomeAt(offset uint64, buffers [][]byte, cont api.TransferFunc, exec api.Executor, alloc api.Allocator) error {
	return f.transferAt(uring.IORING_OP_READV, offset, buffers, cont, exec, alloc)
}

// AsyncWriteSomeAt submits a vectored write at offset.
func (f *AsyncFile) AsyncWriteSomeAt(offset uint64, buffers [][]byte, cont api.TransferFunc, exec api.Executor, alloc api.Allocator) error {
	return f.transferAt(uring.IORING_OP_WRITEV, offset, buffers, cont, exec, alloc)
}

func (f *AsyncFile) transferAt(opcode uint8, offset uint64, buffers [][]byte, cont api.TransferFunc, exec api.Executor, alloc api.Allocator) error {
	dh := ioobject.New(f.shared, api.Continuation{
		Executor:  exec,
		Allocator: alloc,
		Invoke: func(res int32, flags uint32) {
			n, err := ioservice.TransferResult(res)
			cont(err, n)
		},
	})
	return f.svc.InitiateVectored(f.h, len(buffers), func(sqe *uring.SQE, userData uintptr, iov []unix.Iovec) {
		for i, b := range buffers {
			iov[i] = unix.Iovec{Base: iovecBase(b), Len: uint64(len(b))}
		}
		sqe.Opcode = opcode
		sqe.Fd = f.shared.Fd()
		sqe.Off = offset
		if len(iov) > 0 {
			sqe.Addr = iovecAddr(iov)
		}
		sqe.Len = uint32(len(iov))
	}, dh.Continuation())
}

func iovecBase(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}

// AsyncFlush submits fsync, or fdatasync when dataOnly is set.
func (f *AsyncFile) AsyncFlush(dataOnly bool, cont api.CompletionFunc, exec api.Executor, alloc api.Allocator) error {
	dh := ioobject.New(f.shared, api.Continuation{
		Executor:  exec,
		Allocator: alloc,
		Invoke: func(res int32, flags uint32) {
			cont(ioservice.SimpleResult(res))
		},
	})
	return f.svc.Initiate(f.h, func(sqe *uring.SQE, userData uintptr) {
		sqe.Opcode = uring.IORING_OP_FSYNC
		sqe.Fd = f.shared.Fd()
		if dataOnly {
			sqe.OpFlags = uring.IORING_FSYNC_DATASYNC
		}
	}, dh.Continuation())
}
