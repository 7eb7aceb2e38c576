package audit

import (
	"context"

	"github.com/MrEthical07/authcore/internal/async"
)

// Dispatcher forwards audit events to a sink through a background runner.
// A nil *Dispatcher drops everything.
type Dispatcher struct {
	sink   Sink
	runner *async.Runner
}

// NewDispatcher returns nil when runner is nil.
func NewDispatcher(runner *async.Runner, sink Sink) *Dispatcher {
	if runner == nil {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	return &Dispatcher{sink: sink, runner: runner}
}

// Emit queues event. It reports false when the event was dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) bool {
	if d == nil {
		return false
	}
	return d.runner.Submit(ctx, "audit:"+event.EventType, func(taskCtx context.Context) {
		d.sink.Emit(taskCtx, event)
	})
}
