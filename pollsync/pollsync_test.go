package pollsync_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioproactor/ioservice"
	"github.com/momentics/ioproactor/pollsync"
	"github.com/momentics/ioproactor/proactor"
)

func newTestAdapter(t *testing.T, fd int32) (*proactor.Proactor, *pollsync.Adapter) {
	p, err := proactor.New(64)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	svc := ioservice.New(p)
	if err := pollsync.EnsureNonBlocking(fd); err != nil {
		t.Fatalf("EnsureNonBlocking: %v", err)
	}
	return p, pollsync.New(svc, fd)
}

func TestReadSomeZeroLengthCompletesWithoutPoll(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p, a := newTestAdapter(t, int32(fds[0]))
	defer a.Close()

	var gotErr error
	gotN := -1
	done := make(chan struct{}, 1)
	if err := a.ReadSome(nil, func(err error, n int) {
		gotErr, gotN = err, n
		done <- struct{}{}
	}, p.Executor(), nil); err != nil {
		t.Fatalf("ReadSome: %v", err)
	}

	if _, err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-length ReadSome never completed")
	}
	if gotErr != nil || gotN != 0 {
		t.Fatalf("gotErr=%v gotN=%d, want nil,0", gotErr, gotN)
	}
}

func TestReadSomePipeRoundTrip(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p, a := newTestAdapter(t, int32(fds[0]))
	defer a.Close()

	buf := make([]byte, 16)
	var gotErr error
	gotN := -1
	done := make(chan struct{}, 1)
	if err := a.ReadSome([][]byte{buf}, func(err error, n int) {
		gotErr, gotN = err, n
		done <- struct{}{}
	}, p.Executor(), nil); err != nil {
		t.Fatalf("ReadSome: %v", err)
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
		t.Fatal("ReadSome never completed")
	}
	if gotErr != nil {
		t.Fatalf("gotErr = %v, want nil", gotErr)
	}
	if gotN != 12 {
		t.Fatalf("gotN = %d, want 12", gotN)
	}
	if string(buf[:gotN]) != "Hello world!" {
		t.Fatalf("buf = %q, want %q", buf[:gotN], "Hello world!")
	}
}
