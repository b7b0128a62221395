package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrWriterClosed is returned when work is submitted after Close.
var ErrWriterClosed = errors.New("async writer closed")

// WriteFunc is one durable write.
type WriteFunc func(ctx context.Context) error

// ErrorHandler observes failed writes.
type ErrorHandler func(op string, err error)

// AsyncWriterConfig holds configuration for the async writer
type AsyncWriterConfig struct {
	// QueueSize bounds pending writes; Enqueue blocks when full (default: 1024)
	QueueSize int

	// Timeout applies to each write (default: 10s)
	Timeout time.Duration
}

// DefaultAsyncWriterConfig returns sensible defaults
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		QueueSize: 1024,
		Timeout:   10 * time.Second,
	}
}

// AsyncWriter runs durable writes in the background, in submission order.
// Callers update their in-memory state first and enqueue the write; a failed
// write is logged and reported to the error handler but never rolled back.
type AsyncWriter struct {
	config  AsyncWriterConfig
	onError ErrorHandler

	mu     sync.RWMutex
	closed bool
	queue  chan writeJob
	done   chan struct{}

	failures atomic.Int64
}

// writeJob is either a write or, when flushed is set, a flush marker that is
// closed once every job queued before it has run.
type writeJob struct {
	op      string
	fn      WriteFunc
	flushed chan struct{}
}

// NewAsyncWriter starts the background writer. onError may be nil.
func NewAsyncWriter(config AsyncWriterConfig, onError ErrorHandler) *AsyncWriter {
	defaults := DefaultAsyncWriterConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	w := &AsyncWriter{
		config:  config,
		onError: onError,
		queue:   make(chan writeJob, config.QueueSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules fn and returns immediately unless the queue is full.
func (w *AsyncWriter) Enqueue(op string, fn WriteFunc) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		slog.Warn("Dropping durable write after shutdown", "operation", op)
		return ErrWriterClosed
	}
	w.queue <- writeJob{op: op, fn: fn}
	return nil
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for job := range w.queue {
		w.execute(job)
	}
}

func (w *AsyncWriter) execute(job writeJob) {
	if job.flushed != nil {
		close(job.flushed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.Timeout)
	defer cancel()

	if err := job.fn(ctx); err != nil {
		w.failures.Add(1)
		slog.Error("Durable write failed, keeping in-memory state",
			"operation", job.op,
			"error_type", "database_error",
			"error", err)
		if w.onError != nil {
			w.onError(job.op, err)
		}
	}
}

// Flush waits until every write enqueued so far has completed.
func (w *AsyncWriter) Flush(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return w.wait(ctx, w.done, "flush durable writes")
	}
	marker := writeJob{op: "flush", flushed: make(chan struct{})}
	select {
	case w.queue <- marker:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return fmt.Errorf("flush durable writes: %w", ctx.Err())
	}
	return w.wait(ctx, marker.flushed, "flush durable writes")
}

func (w *AsyncWriter) wait(ctx context.Context, ch <-chan struct{}, what string) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
}

// Failures returns the number of writes that failed since start.
func (w *AsyncWriter) Failures() int64 {
	return w.failures.Load()
}

// Close stops accepting writes and drains the queue.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	return w.wait(ctx, w.done, "close async writer")
}
