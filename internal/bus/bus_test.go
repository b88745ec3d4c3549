package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		if err := q.Put(i); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 queued, got %d", q.Len())
	}
	for i := 0; i < 5; i++ {
		v, err := q.Get(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
}

func TestQueue_GetBlocksUntilPut(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := q.Get(context.Background())
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Get returned before Put")
	case <-time.After(20 * time.Millisecond):
	}

	q.Put("hello")
	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not wake after Put")
	}
}

func TestQueue_CloseDrainsThenErrors(t *testing.T) {
	q := NewQueue[int]()
	q.Put(1)
	q.Close()

	if err := q.Put(2); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on Put after Close, got %v", err)
	}
	v, err := q.Get(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("expected queued value 1, got %d, %v", v, err)
	}
	if _, err := q.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on drained queue, got %v", err)
	}
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := NewQueue[int]()
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Get(context.Background())
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	}
}

func TestQueue_GetHonorsContext(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue[int]()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Put(i)
			}
		}()
	}
	wg.Wait()
	q.Close()

	n := 0
	for {
		if _, err := q.Get(context.Background()); err != nil {
			break
		}
		n++
	}
	if n != 400 {
		t.Fatalf("expected 400 values, got %d", n)
	}
}
