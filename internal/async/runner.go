// Package async runs fire-and-forget work (audit emission, user
// notifications) on a bounded queue drained by a fixed set of workers.
package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of background work.
type Task func(ctx context.Context)

// Config controls queue size and drop behavior.
type Config struct {
	Workers    int
	BufferSize int
	// DropIfFull drops tasks instead of blocking Submit when the queue is full.
	DropIfFull bool
	// TaskTimeout bounds the context handed to each task. Zero means none.
	TaskTimeout time.Duration
}

// Runner executes submitted tasks in the background. A nil *Runner runs
// nothing and is safe to call.
type Runner struct {
	cfg       Config
	logger    *zap.Logger
	ch        chan namedTask
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	panics    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

type namedTask struct {
	name string
	fn   Task
}

// NewRunner starts cfg.Workers goroutines draining the queue.
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		cfg:    cfg,
		logger: logger.Named("async"),
		ch:     make(chan namedTask, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.run()
	}
	return r
}

func (r *Runner) run() {
	defer r.wg.Done()

	for {
		select {
		case t := <-r.ch:
			r.exec(t)
		case <-r.done:
			for {
				select {
				case t := <-r.ch:
					r.exec(t)
				default:
					return
				}
			}
		}
	}
}

func (r *Runner) exec(t namedTask) {
	ctx := context.Background()
	if r.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error("async task panicked", zap.String("task", t.name), zap.Any("panic", rec))
		}
	}()
	t.fn(ctx)
}

// Submit queues fn under name. It reports whether the task was accepted.
// With DropIfFull a full queue drops the task; otherwise Submit blocks until
// there is room, ctx is done or the runner closes.
func (r *Runner) Submit(ctx context.Context, name string, fn Task) bool {
	if r == nil || fn == nil || r.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t := namedTask{name: name, fn: fn}

	if r.cfg.DropIfFull {
		select {
		case r.ch <- t:
			return true
		case <-r.done:
			return false
		default:
			r.dropped.Add(1)
			r.logger.Debug("async task dropped", zap.String("task", name))
			return false
		}
	}

	select {
	case r.ch <- t:
		return true
	case <-ctx.Done():
		return false
	case <-r.done:
		return false
	}
}

// Close stops accepting tasks, drains the queue and waits for the workers.
func (r *Runner) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped returns the number of tasks dropped because the queue was full.
func (r *Runner) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Panics returns the number of tasks that panicked.
func (r *Runner) Panics() uint64 {
	if r == nil {
		return 0
	}
	return r.panics.Load()
}
