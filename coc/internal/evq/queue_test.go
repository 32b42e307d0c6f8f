package evq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 1000; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		v, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if v != i {
			t.Fatalf("got %d, want %d", v, i)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestPopWaitsForPush(t *testing.T) {
	q := New[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push("hello")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := q.Pop(ctx)
	if err != nil || v != "hello" {
		t.Fatalf("Pop = %q, %v", v, err)
	}
}

func TestPopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCloseDrainsThenFails(t *testing.T) {
	q := New[int]()
	_ = q.Push(1)
	q.Close()
	if err := q.Push(2); !errors.Is(err, ErrClosed) {
		t.Fatalf("Push after Close: %v", err)
	}
	ctx := context.Background()
	if v, err := q.Pop(ctx); err != nil || v != 1 {
		t.Fatalf("Pop = %d, %v", v, err)
	}
	if _, err := q.Pop(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers, each = 8, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_ = q.Push(p*each + i)
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for n := 0; n < producers*each; n++ {
		v, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		p, i := v/each, v%each
		if i <= last[p] {
			t.Fatalf("producer %d out of order: %d after %d", p, i, last[p])
		}
		last[p] = i
	}
	wg.Wait()
}
