package uvloop

import (
	"sync"
	"testing"
)

func TestWorkQueue_FIFOOrder(t *testing.T) {
	var q workQueue
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.push(workItem{fn: func() error {
			order = append(order, i)
			return nil
		}})
	}
	items := q.drain()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	for i, it := range items {
		if err := it.fn(); err != nil {
			t.Fatal(err)
		}
		_ = i
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestWorkQueue_DrainEmpty(t *testing.T) {
	var q workQueue
	if items := q.drain(); items != nil {
		t.Fatalf("expected nil drain on empty queue, got %v", items)
	}
}

func TestWorkQueue_ConcurrentProducers(t *testing.T) {
	var q workQueue
	const producers = 16
	const perProducer = 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.push(workItem{fn: func() error { return nil }})
			}
		}()
	}
	wg.Wait()
	total := 0
	for {
		items := q.drain()
		if len(items) == 0 {
			break
		}
		total += len(items)
	}
	if total != producers*perProducer {
		t.Fatalf("expected %d items, got %d", producers*perProducer, total)
	}
}

func TestCloseQueue_DrainClears(t *testing.T) {
	var q closeQueue
	q.push(closeItem{fn: func() error { return nil }})
	q.push(closeItem{fn: func() error { return nil }})
	items := q.drain()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items2 := q.drain(); len(items2) != 0 {
		t.Fatalf("expected empty drain after first drain, got %d", len(items2))
	}
}

func TestPostedFlag_CASDedup(t *testing.T) {
	var p postedFlag
	if !p.tryFire() {
		t.Fatal("first tryFire should win")
	}
	if p.tryFire() {
		t.Fatal("second tryFire before rearm should lose")
	}
	p.rearm()
	if !p.tryFire() {
		t.Fatal("tryFire after rearm should win again")
	}
}
