package fd_test

import (
	"testing"

	"github.com/momentics/ioproactor/internal/fd"
	"golang.org/x/sys/unix"
)

func TestDescriptorTakeInvalidatesSource(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	d := fd.New(int32(fds[0]))
	moved := d.Take()

	if d.Valid() {
		t.Fatal("source Descriptor should be invalid after Take")
	}
	if !moved.Valid() {
		t.Fatal("moved Descriptor should own the fd")
	}
	if moved.Int() != int32(fds[0]) {
		t.Fatalf("moved fd = %d, want %d", moved.Int(), fds[0])
	}
	moved.Close()
	unix.Close(fds[1])
}

func TestDescriptorCloseOnInvalidIsNoop(t *testing.T) {
	var d fd.Descriptor
	if d.Valid() {
		t.Fatal("zero-value Descriptor should be invalid")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close on invalid Descriptor: %v", err)
	}
}

func TestDescriptorCloseThenCloseAgainIsNoop(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	unix.Close(fds[1])
	d := fd.New(int32(fds[0]))
	if err := d.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}
}
