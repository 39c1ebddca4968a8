package nbasync

import (
	"context"

	"github.com/phrazzld/paygate/internal/cooldown"
	"github.com/phrazzld/paygate/internal/task"
)

// Adder enqueues a single job.
type Adder interface {
	Add(ctx context.Context, name string, data any, opts *task.JobOptions) (*task.Job, error)
}

// Triggers enqueues manual sync requests, at most one per job name per
// cooldown window.
type Triggers struct {
	queue       Adder
	coordinator *cooldown.Coordinator
	maxDays     int
}

// NewTriggers creates the manual trigger entry point.
func NewTriggers(queue Adder, coordinator *cooldown.Coordinator, maxDays int) *Triggers {
	return &Triggers{queue: queue, coordinator: coordinator, maxDays: maxDays}
}

// Fire validates p and enqueues job name through the cooldown. Callers
// inside an active window receive the job that opened it.
func (t *Triggers) Fire(ctx context.Context, name string, p Params) (*task.Job, error) {
	if err := Validate(name, p, t.maxDays); err != nil {
		return nil, err
	}
	return t.coordinator.Trigger(ctx, name, func(ctx context.Context) (*task.Job, error) {
		return t.queue.Add(ctx, name, p, nil)
	})
}
