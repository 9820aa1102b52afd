package streamfile_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/ioservice"
	"github.com/momentics/ioproactor/proactor"
	"github.com/momentics/ioproactor/streamfile"
)

func svcCancel(svc *ioservice.Service, target uintptr, cont func(error)) error {
	return svc.CancelVia(target, api.Continuation{
		Invoke: func(res int32, flags uint32) { cont(ioservice.SimpleResult(res)) },
	})
}

func TestPollFileReadSomeRoundTrip(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[1])

	p, err := proactor.New(64)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	defer p.Close()
	svc := ioservice.New(p)

	f, err := streamfile.NewPollFile(svc, int32(fds[0]))
	if err != nil {
		t.Fatalf("NewPollFile: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 16)
	var gotErr error
	gotN := -1
	done := make(chan struct{}, 1)
	if err := f.AsyncReadSome([][]byte{buf}, func(err error, n int) {
		gotErr, gotN = err, n
		done <- struct{}{}
	}, p.Executor(), nil); err != nil {
		t.Fatalf("AsyncReadSome: %v", err)
	}

	if _, err := unix.Write(fds[1], []byte("Hello world!")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AsyncReadSome never completed")
	}
	if gotErr != nil || gotN != 12 {
		t.Fatalf("gotErr=%v gotN=%d, want nil,12", gotErr, gotN)
	}
	if string(buf[:gotN]) != "Hello world!" {
		t.Fatalf("buf = %q", buf[:gotN])
	}
}

func TestPollFileCancellationViaPollRemove(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p, err := proactor.New(64)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	defer p.Close()
	svc := ioservice.New(p)

	f, err := streamfile.NewPollFile(svc, int32(fds[0]))
	if err != nil {
		t.Fatalf("NewPollFile: %v", err)
	}
	defer f.Close()

	var gotErr error
	aborted := make(chan struct{}, 1)
	if err := f.AsyncPollIn(func(err error) {
		gotErr = err
		aborted <- struct{}{}
	}, p.Executor(), nil); err != nil {
		t.Fatalf("AsyncPollIn: %v", err)
	}

	if n, err := p.Poll(); err != nil || n != 0 {
		t.Fatalf("Poll = (%d, %v), want (0, nil)", n, err)
	}

	var target uintptr
	f.Handle().Iterate(func(userData uintptr) bool {
		target = userData
		return false
	})
	if target == 0 {
		t.Fatal("no outstanding record to cancel")
	}

	removeDone := make(chan error, 1)
	if err := svcCancel(svc, target, func(err error) { removeDone <- err }); err != nil {
		t.Fatalf("CancelVia: %v", err)
	}

	if _, err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case err := <-removeDone:
		if err != nil {
			t.Fatalf("poll-remove handler error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poll-remove handler never ran")
	}
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("original poll handler never ran")
	}
	if gotErr == nil {
		t.Fatal("gotErr = nil, want operation-aborted")
	}
}
