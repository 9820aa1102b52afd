package evcount_test

import (
	"testing"

	"github.com/momentics/ioproactor/internal/evcount"
)

func TestEventCounterResetOnReadAccumulates(t *testing.T) {
	c, err := evcount.New(evcount.ResetOnRead)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Add(1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n, err := c.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if n != 3 {
		t.Fatalf("Consume = %d, want 3", n)
	}

	n, err = c.Consume()
	if err != nil {
		t.Fatalf("Consume (empty): %v", err)
	}
	if n != 0 {
		t.Fatalf("Consume (empty) = %d, want 0", n)
	}
}

func TestEventCounterSemaphoreDecrementsByOne(t *testing.T) {
	c, err := evcount.New(evcount.Semaphore)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Add(3); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var total uint64
	for i := 0; i < 3; i++ {
		n, err := c.Consume()
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		total += n
	}
	if total != 3 {
		t.Fatalf("total consumed = %d, want 3", total)
	}

	n, err := c.Consume()
	if err != nil {
		t.Fatalf("Consume (empty): %v", err)
	}
	if n != 0 {
		t.Fatalf("Consume (empty) = %d, want 0", n)
	}
}

func TestEventCounterCloseIsIdempotent(t *testing.T) {
	c, err := evcount.New(evcount.ResetOnRead)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if c.Active() {
		t.Fatal("Active should be false after Close")
	}
}
