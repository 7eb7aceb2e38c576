package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerExecutesAndDrainsOnClose(t *testing.T) {
	r := NewRunner(Config{Workers: 2, BufferSize: 16}, nil)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		if !r.Submit(context.Background(), "count", func(context.Context) { n.Add(1) }) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	r.Close()

	if got := n.Load(); got != 10 {
		t.Fatalf("expected 10 tasks run, got %d", got)
	}
	if r.Submit(context.Background(), "late", func(context.Context) {}) {
		t.Fatal("submit after close must be rejected")
	}
}

func TestRunnerDropIfFull(t *testing.T) {
	r := NewRunner(Config{Workers: 1, BufferSize: 1, DropIfFull: true}, nil)
	defer r.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	r.Submit(context.Background(), "block", func(context.Context) {
		close(started)
		<-block
	})
	<-started

	// Worker busy: one fits the buffer, the next is dropped.
	r.Submit(context.Background(), "fill", func(context.Context) {})
	if r.Submit(context.Background(), "drop", func(context.Context) {}) {
		t.Fatal("expected drop when queue is full")
	}
	if r.Dropped() != 1 {
		t.Fatalf("dropped = %d", r.Dropped())
	}
	close(block)
}

func TestRunnerRecoversPanics(t *testing.T) {
	r := NewRunner(Config{Workers: 1, BufferSize: 4}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	r.Submit(context.Background(), "boom", func(context.Context) { panic("boom") })
	r.Submit(context.Background(), "after", func(context.Context) { wg.Done() })
	wg.Wait()
	r.Close()

	if r.Panics() != 1 {
		t.Fatalf("panics = %d", r.Panics())
	}
}

func TestRunnerTaskTimeout(t *testing.T) {
	r := NewRunner(Config{Workers: 1, BufferSize: 1, TaskTimeout: 10 * time.Millisecond}, nil)

	errCh := make(chan error, 1)
	r.Submit(context.Background(), "wait", func(ctx context.Context) {
		<-ctx.Done()
		errCh <- ctx.Err()
	})
	r.Close()

	if err := <-errCh; err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNilRunnerIsSafe(t *testing.T) {
	var r *Runner
	if r.Submit(context.Background(), "x", func(context.Context) {}) {
		t.Fatal("nil runner must not accept work")
	}
	r.Close()
	if r.Dropped() != 0 || r.Panics() != 0 {
		t.Fatal("nil runner counters must be zero")
	}
}
