package notifyqueue_test

import (
	"sync"
	"testing"

	"github.com/momentics/ioproactor/api"
	"github.com/momentics/ioproactor/internal/notifyqueue"
)

func TestQueueSendAndDrain(t *testing.T) {
	q, err := notifyqueue.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if err := q.Send(&api.WorkItem{Fn: func() { got = append(got, i) }}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	n, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if n != 5 {
		t.Fatalf("Pending = %d, want 5", n)
	}

	processed := q.DrainUpTo(10, func(w *api.WorkItem) { w.Fn() })
	if processed != 5 {
		t.Fatalf("DrainUpTo processed = %d, want 5", processed)
	}
	if len(got) != 5 {
		t.Fatalf("len(got) = %d, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d (FIFO order)", i, v, i)
		}
	}
}

func TestQueueDrainUpToStopsAtLimit(t *testing.T) {
	q, err := notifyqueue.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	for i := 0; i < 3; i++ {
		if err := q.Send(&api.WorkItem{Fn: func() {}}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	processed := q.DrainUpTo(2, func(*api.WorkItem) {})
	if processed != 2 {
		t.Fatalf("DrainUpTo(2) processed = %d, want 2", processed)
	}
	processed = q.DrainUpTo(10, func(*api.WorkItem) {})
	if processed != 1 {
		t.Fatalf("DrainUpTo(10) processed = %d, want 1 remaining item", processed)
	}
}

func TestQueueConcurrentSenders(t *testing.T) {
	q, err := notifyqueue.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Send(&api.WorkItem{Fn: func() {}})
			}
		}()
	}
	wg.Wait()

	total := 0
	for {
		n := q.DrainUpTo(1000, func(w *api.WorkItem) { w.Fn() })
		total += n
		if n == 0 {
			break
		}
	}
	if total != producers*perProducer {
		t.Fatalf("total drained = %d, want %d", total, producers*perProducer)
	}
}

func TestQueueDrainSurvivesPanickingCallback(t *testing.T) {
	q, err := notifyqueue.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	if err := q.Send(&api.WorkItem{Fn: func() {}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := q.Send(&api.WorkItem{Fn: func() {}}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	func() {
		defer func() { recover() }()
		q.DrainUpTo(10, func(*api.WorkItem) { panic("boom") })
	}()

	processed := q.DrainUpTo(10, func(*api.WorkItem) {})
	if processed != 1 {
		t.Fatalf("remaining item after panic = %d, want 1", processed)
	}
}
