package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAsyncWriterPreservesOrder(t *testing.T) {
	w := NewAsyncWriter(DefaultAsyncWriterConfig(), nil)
	defer w.Close(context.Background())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		if err := w.Enqueue("op", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("write %d ran out of order (got %d)", i, v)
		}
	}
	if len(got) != 50 {
		t.Fatalf("expected 50 writes, got %d", len(got))
	}
}

func TestAsyncWriterReportsFailures(t *testing.T) {
	var mu sync.Mutex
	var ops []string
	w := NewAsyncWriter(AsyncWriterConfig{QueueSize: 4, Timeout: time.Second}, func(op string, err error) {
		mu.Lock()
		ops = append(ops, op)
		mu.Unlock()
	})

	boom := errors.New("disk full")
	_ = w.Enqueue("save_transaction", func(context.Context) error { return boom })
	_ = w.Enqueue("save_budget", func(context.Context) error { return nil })

	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", w.Failures())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ops) != 1 || ops[0] != "save_transaction" {
		t.Fatalf("unexpected failed ops: %v", ops)
	}
}

func TestAsyncWriterRejectsAfterClose(t *testing.T) {
	w := NewAsyncWriter(DefaultAsyncWriterConfig(), nil)
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Enqueue("late", func(context.Context) error { return nil }); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	// Closing twice is safe.
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestAsyncWriterTimeoutPerWrite(t *testing.T) {
	w := NewAsyncWriter(AsyncWriterConfig{Timeout: 20 * time.Millisecond}, nil)
	_ = w.Enqueue("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.Failures() != 1 {
		t.Fatalf("expected the timed-out write to count as failure")
	}
}

func TestAsyncWriterFlushDuringConcurrentEnqueue(t *testing.T) {
	w := NewAsyncWriter(AsyncWriterConfig{QueueSize: 8, Timeout: time.Second}, nil)
	defer w.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = w.Enqueue("op", func(context.Context) error { return nil })
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := w.Flush(ctx); err != nil {
					t.Errorf("flush: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestAsyncWriterFlushHonoursContext(t *testing.T) {
	w := NewAsyncWriter(AsyncWriterConfig{Timeout: 5 * time.Second}, nil)
	defer w.Close(context.Background())

	release := make(chan struct{})
	_ = w.Enqueue("blocked", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := w.Flush(ctx2); err != nil {
		t.Fatalf("flush after release: %v", err)
	}
}

func TestAsyncWriterFlushAfterClose(t *testing.T) {
	w := NewAsyncWriter(DefaultAsyncWriterConfig(), nil)
	ran := false
	_ = w.Enqueue("op", func(context.Context) error { ran = true; return nil })
	if err := w.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(context.Background()); err != nil || !ran {
		t.Fatalf("flush after close = %v, ran = %v", err, ran)
	}
}
