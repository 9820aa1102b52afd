// Package uring wraps the raw io_uring(7) syscalls and the mmap'd
// submission/completion ring buffers behind a small Ring handle: GetSQE,
// Submit, PeekCQE/WaitCQE, SeenCQE, Close. Everything above this package
// (the proactor's driver loop, the I/O object service) talks to the kernel
// exclusively through this type.
//
// Grounded on the separate-mmap ring layout and index arithmetic used
// without IORING_FEATURE_SINGLE_MMAP, the same shape as the pack's
// io_uring wrappers that predate that optimization.
package uring

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	IORING_SETUP_IOPOLL = 1 << 0
	IORING_SETUP_SQPOLL = 1 << 1
	IORING_SETUP_SQ_AFF = 1 << 2
	IORING_SETUP_CQSIZE = 1 << 3

	IORING_OP_NOP         uint8 = 0
	IORING_OP_READV       uint8 = 1
	IORING_OP_WRITEV      uint8 = 2
	IORING_OP_FSYNC       uint8 = 3
	IORING_OP_POLL_ADD    uint8 = 6
	IORING_OP_POLL_REMOVE uint8 = 7
	IORING_OP_CONNECT     uint8 = 16
	IORING_OP_ACCEPT      uint8 = 13

	IORING_FSYNC_DATASYNC uint32 = 1 << 0

	IORING_ENTER_GETEVENTS uint32 = 1 << 0
	IORING_ENTER_SQ_WAKEUP uint32 = 1 << 1

	// IOSQE_FIXED_FILE marks an SQE's Fd field as a registered-file index
	// (from a prior IORING_REGISTER_FILES call) rather than a raw fd.
	IOSQE_FIXED_FILE uint8 = 1 << 0

	// IORING_REGISTER_FILES registers an array of raw fds with the ring,
	// after which SQEs may reference them by index via IOSQE_FIXED_FILE.
	IORING_REGISTER_FILES uint32 = 2

	sysIOUringSetup    = unix.SYS_IO_URING_SETUP
	sysIOUringEnter    = unix.SYS_IO_URING_ENTER
	sysIOUringRegister = unix.SYS_IO_URING_REGISTER

	offSQRing = int64(0)
	offCQRing = int64(0x8000000)
	offSQEs   = int64(0x10000000)
)

// SQE is the submission queue entry layout, field-for-field compatible
// with struct io_uring_sqe for the opcodes this package issues.
type SQE struct {
	Opcode   uint8
	Flags    uint8
	Ioprio   uint16
	Fd       int32
	Off      uint64
	Addr     uint64
	Len      uint32
	OpFlags  uint32
	UserData uint64
	pad      [3]uint64
}

// CQE is the completion queue entry layout, field-for-field compatible
// with struct io_uring_cqe.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

type sqRingOffsets struct {
	head, tail, ringMask, ringEntries, flags, dropped, array uint32
	resv1                                                    uint32
	resv2                                                    uint64
}

type cqRingOffsets struct {
	head, tail, ringMask, ringEntries, overflow, cqes uint32
	resv                                               [2]uint64
}

type params struct {
	sqEntries, cqEntries, flags, sqThreadCPU, sqThreadIdle, features uint32
	resv                                                             [4]uint32
	sqOff                                                            sqRingOffsets
	cqOff                                                            cqRingOffsets
}

// Ring owns the io_uring fd and the mmap'd submission/completion queues.
type Ring struct {
	fd int32

	sqRingMmap []byte
	sqesMmap   []byte
	cqRingMmap []byte

	sqKhead, sqKtail, sqKringMask, sqKflags, sqKdropped *uint32
	sqArray                                             []uint32
	sqes                                                []SQE

	cqKhead, cqKtail, cqKringMask, cqKoverflow *uint32
	cqes                                       []CQE

	sqLocalTail uint32
}

// Setup creates a new Ring with the given submission queue depth, which
// must be a power of two.
func Setup(entries uint32) (*Ring, error) {
	var p params
	fdv, _, errno := unix.Syscall(sysIOUringSetup, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0)
	if int32(fdv) < 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}
	fd := int32(fdv)

	sqRingSz := int(p.sqOff.array + p.sqEntries*4)
	sqRing, err := mmap(fd, offSQRing, sqRingSz)
	if err != nil {
		unix.Close(int(fd))
		return nil, fmt.Errorf("mmap sq ring: %w", err)
	}

	sqesSz := int(uintptr(p.sqEntries) * unsafe.Sizeof(SQE{}))
	sqes, err := mmap(fd, offSQEs, sqesSz)
	if err != nil {
		unix.Munmap(sqRing)
		unix.Close(int(fd))
		return nil, fmt.Errorf("mmap sqes: %w", err)
	}

	cqRingSz := int(p.cqOff.cqes + p.cqEntries*uint32(unsafe.Sizeof(CQE{})))
	cqRing, err := mmap(fd, offCQRing, cqRingSz)
	if err != nil {
		unix.Munmap(sqRing)
		unix.Munmap(sqes)
		unix.Close(int(fd))
		return nil, fmt.Errorf("mmap cq ring: %w", err)
	}

	r := &Ring{
		fd:         fd,
		sqRingMmap: sqRing,
		sqesMmap:   sqes,
		cqRingMmap: cqRing,
	}

	sqBase := unsafe.Pointer(&sqRing[0])
	r.sqKhead = (*uint32)(unsafe.Add(sqBase, uintptr(p.sqOff.head)))
	r.sqKtail = (*uint32)(unsafe.Add(sqBase, uintptr(p.sqOff.tail)))
	r.sqKringMask = (*uint32)(unsafe.Add(sqBase, uintptr(p.sqOff.ringMask)))
	r.sqKflags = (*uint32)(unsafe.Add(sqBase, uintptr(p.sqOff.flags)))
	r.sqKdropped = (*uint32)(unsafe.Add(sqBase, uintptr(p.sqOff.dropped)))
	r.sqArray = sliceAt[uint32](unsafe.Add(sqBase, uintptr(p.sqOff.array)), int(p.sqEntries))
	r.sqes = sliceAt[SQE](unsafe.Pointer(&sqes[0]), int(p.sqEntries))

	cqBase := unsafe.Pointer(&cqRing[0])
	r.cqKhead = (*uint32)(unsafe.Add(cqBase, uintptr(p.cqOff.head)))
	r.cqKtail = (*uint32)(unsafe.Add(cqBase, uintptr(p.cqOff.tail)))
	r.cqKringMask = (*uint32)(unsafe.Add(cqBase, uintptr(p.cqOff.ringMask)))
	r.cqKoverflow = (*uint32)(unsafe.Add(cqBase, uintptr(p.cqOff.overflow)))
	r.cqes = sliceAt[CQE](unsafe.Add(cqBase, uintptr(p.cqOff.cqes)), int(p.cqEntries))

	r.sqLocalTail = atomic.LoadUint32(r.sqKtail)

	return r, nil
}

// Fd returns the ring's own fd, usable as a pollable descriptor from an
// outer event loop (not used by this package's own driver, which talks to
// the kernel directly via io_uring_enter).
func (r *Ring) Fd() int32 {
	return r.fd
}

// GetSQE reserves the next free submission queue entry and returns a
// pointer to it, zeroed, or nil if the local submission queue is full —
// callers must Submit to make room.
func (r *Ring) GetSQE() *SQE {
	head := atomic.LoadUint32(r.sqKhead)
	if r.sqLocalTail-head >= uint32(len(r.sqes)) {
		return nil
	}
	idx := r.sqLocalTail & *r.sqKringMask
	r.sqLocalTail++
	e := &r.sqes[idx]
	*e = SQE{}
	return e
}

// Submit publishes every SQE reserved since the last Submit to the kernel
// and returns the number of entries the kernel accepted.
func (r *Ring) Submit() (uint32, error) {
	return r.submit(0, 0)
}

// SubmitAndWait is Submit, additionally blocking until at least
// minComplete completions are available.
func (r *Ring) SubmitAndWait(minComplete uint32) (uint32, error) {
	return r.submit(minComplete, IORING_ENTER_GETEVENTS)
}

func (r *Ring) submit(minComplete, extraFlags uint32) (uint32, error) {
	mask := *r.sqKringMask
	ktail := atomic.LoadUint32(r.sqKtail)
	khead := atomic.LoadUint32(r.sqKhead)
	toSubmit := r.sqLocalTail - khead
	for i := uint32(0); i < toSubmit; i++ {
		idx := ktail & mask
		atomic.StoreUint32(&r.sqArray[idx], khead&mask)
		ktail++
		khead++
	}
	atomic.StoreUint32(r.sqKtail, ktail)

	flags := extraFlags
	if toSubmit > 0 || minComplete > 0 {
		flags |= IORING_ENTER_GETEVENTS
	}
	n, err := r.enter(toSubmit, minComplete, flags)
	if err != nil {
		return 0, err
	}
	if atomic.LoadUint32(r.sqKdropped) != 0 {
		return n, fmt.Errorf("io_uring: kernel dropped submission queue entries")
	}
	return n, nil
}

func (r *Ring) enter(toSubmit, minComplete, flags uint32) (uint32, error) {
	for {
		ret, _, errno := unix.Syscall6(sysIOUringEnter, uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
		if int32(ret) < 0 {
			if errno == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("io_uring_enter: %w", errno)
		}
		return uint32(ret), nil
	}
}

// PeekCQE returns the oldest unseen completion without blocking, or nil if
// none is available.
func (r *Ring) PeekCQE() *CQE {
	head := atomic.LoadUint32(r.cqKhead)
	tail := atomic.LoadUint32(r.cqKtail)
	if head == tail {
		return nil
	}
	return &r.cqes[head&*r.cqKringMask]
}

// WaitCQE blocks, submitting nothing, until at least one completion is
// available, then returns it.
func (r *Ring) WaitCQE() (*CQE, error) {
	if e := r.PeekCQE(); e != nil {
		return e, nil
	}
	if _, err := r.enter(0, 1, IORING_ENTER_GETEVENTS); err != nil {
		return nil, err
	}
	e := r.PeekCQE()
	if e == nil {
		return nil, fmt.Errorf("io_uring: wait returned with no completion")
	}
	return e, nil
}

// SeenCQE marks cqe (previously returned by PeekCQE/WaitCQE) as consumed,
// advancing the completion queue head.
func (r *Ring) SeenCQE(cqe *CQE) {
	atomic.AddUint32(r.cqKhead, 1)
}

// Register invokes io_uring_register(2) with the given opcode and argument
// array. Its caller in this package is RegisterFiles
// (IORING_REGISTER_FILES).
func (r *Ring) Register(opcode uint32, arg unsafe.Pointer, nargs uint32) error {
	ret, _, errno := unix.Syscall6(sysIOUringRegister, uintptr(r.fd), uintptr(opcode), uintptr(arg), uintptr(nargs), 0, 0)
	if int32(ret) < 0 {
		return fmt.Errorf("io_uring_register: %w", errno)
	}
	return nil
}

// RegisterFiles registers fds as fixed files, indexed in the order given:
// fds[0] becomes fixed index 0, fds[1] index 1, and so on. SQEs that set
// IOSQE_FIXED_FILE and put one of these indices in Fd are resolved against
// this table instead of the process's own fd table.
func (r *Ring) RegisterFiles(fds []int32) error {
	if len(fds) == 0 {
		return nil
	}
	return r.Register(IORING_REGISTER_FILES, unsafe.Pointer(&fds[0]), uint32(len(fds)))
}

// Close tears down the mmap'd rings and the ring fd. Not safe to call
// concurrently with GetSQE/Submit/PeekCQE.
func (r *Ring) Close() error {
	var firstErr error
	if err := unix.Munmap(r.sqRingMmap); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Munmap(r.sqesMmap); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Munmap(r.cqRingMmap); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(int(r.fd)); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func mmap(fd int32, offset int64, size int) ([]byte, error) {
	return unix.Mmap(int(fd), offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
}

func sliceAt[T any](base unsafe.Pointer, n int) []T {
	var out []T
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&out))
	hdr.Data = uintptr(base)
	hdr.Len = n
	hdr.Cap = n
	return out
}
