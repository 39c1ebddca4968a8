// Package cooldown collapses repeated triggers of the same background action
// into a single enqueued job per cooldown window.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/phrazzld/paygate/internal/coord"
	"github.com/phrazzld/paygate/internal/metrics"
	"github.com/phrazzld/paygate/internal/task"
)

// ErrCooldownActive is matched by every *ActiveError.
var ErrCooldownActive = errors.New("cooldown active")

// ActiveError reports that an action is cooling down and no job could be
// handed to the caller.
type ActiveError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *ActiveError) Error() string {
	return fmt.Sprintf("manual sync cooldown active; retry after %dms", e.RetryAfter.Milliseconds())
}

// Is makes errors.Is(err, ErrCooldownActive) hold.
func (e *ActiveError) Is(target error) bool {
	return target == ErrCooldownActive
}

// Outcomes recorded on the cooldown metric.
const (
	OutcomeClaimed       = "claimed"
	OutcomeFollowed      = "followed"
	OutcomeRejected      = "rejected"
	OutcomeEnqueueFailed = "enqueue_failed"
)

const (
	cooldownPrefix = "manual-sync:cooldown:"
	jobPrefix      = "manual-sync:job:"
)

// CooldownKey returns the claim key of an action.
func CooldownKey(action string) string { return cooldownPrefix + action }

// JobKey returns the key holding the job id published by an action's winner.
func JobKey(action string) string { return jobPrefix + action }

// JobLookup resolves a published job id.
type JobLookup interface {
	GetJob(ctx context.Context, id string) (*task.Job, error)
}

// EnqueueFunc enqueues the action's job. It is only called by the winner of
// a claim.
type EnqueueFunc func(ctx context.Context) (*task.Job, error)

// Config tunes a Coordinator.
type Config struct {
	Window           time.Duration
	FollowerAttempts int
	FollowerDelay    time.Duration
}

// Coordinator guards trigger endpoints with a per-action claim in the
// coordination store.
type Coordinator struct {
	store  coord.Store
	jobs   JobLookup
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator returns a Coordinator.
func NewCoordinator(store coord.Store, jobs JobLookup, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.FollowerAttempts < 1 {
		cfg.FollowerAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  store,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger.With("component", "cooldown"),
		now:    time.Now,
	}
}

// WithClock replaces the clock used for claim values.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Trigger runs enqueue at most once per action per window. Callers that lose
// the claim receive the winner's job, or an *ActiveError when it cannot be
// resolved in time.
func (c *Coordinator) Trigger(ctx context.Context, action string, enqueue EnqueueFunc) (*task.Job, error) {
	claimKey := CooldownKey(action)
	claim := strconv.FormatInt(c.now().UnixMilli(), 10)

	won, err := c.store.SetNX(ctx, claimKey, claim, c.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to claim cooldown for %s: %w", action, err)
	}
	if won {
		return c.lead(ctx, action, claim, enqueue)
	}
	return c.follow(ctx, action)
}

func (c *Coordinator) lead(ctx context.Context, action, claim string, enqueue EnqueueFunc) (*task.Job, error) {
	job, err := enqueue(ctx)
	if err != nil {
		// Free the window so the next caller can try again
		if _, relErr := c.store.CompareAndDelete(context.WithoutCancel(ctx), CooldownKey(action), claim); relErr != nil {
			c.logger.Error("failed to release cooldown claim", "action", action, "error", relErr)
		}
		metrics.RecordCooldownOutcome(OutcomeEnqueueFailed)
		return nil, fmt.Errorf("failed to enqueue %s: %w", action, err)
	}

	if err := c.store.Set(ctx, JobKey(action), job.ID, c.cfg.Window); err != nil {
		c.logger.Warn("failed to publish cooldown job id", "action", action, "job_id", job.ID, "error", err)
	}
	metrics.RecordCooldownOutcome(OutcomeClaimed)
	c.logger.Info("cooldown claimed", "action", action, "job_id", job.ID)
	return job, nil
}

func (c *Coordinator) follow(ctx context.Context, action string) (*task.Job, error) {
	for attempt := 0; attempt < c.cfg.FollowerAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.cfg.FollowerDelay); err != nil {
				return nil, err
			}
		}

		id, err := c.store.Get(ctx, JobKey(action))
		if errors.Is(err, coord.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cooldown job for %s: %w", action, err)
		}

		job, err := c.jobs.GetJob(ctx, id)
		if errors.Is(err, task.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cooldown job for %s: %w", action, err)
		}
		metrics.RecordCooldownOutcome(OutcomeFollowed)
		return job, nil
	}

	remaining, err := c.store.TTL(ctx, CooldownKey(action))
	if err != nil && !errors.Is(err, coord.ErrNotFound) {
		return nil, fmt.Errorf("failed to read cooldown for %s: %w", action, err)
	}
	if remaining < 0 {
		remaining = 0
	}
	metrics.RecordCooldownOutcome(OutcomeRejected)
	return nil, &ActiveError{Action: action, RetryAfter: remaining}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
