package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/paygate/internal/coord"
	"github.com/phrazzld/paygate/internal/platform/logger"
)

// CancelKeyPrefix prefixes the cancellation flag of a job.
const CancelKeyPrefix = "a2a:cancel:"

// DefaultCancelTTL bounds how long a cancellation request stays visible.
const DefaultCancelTTL = 5 * time.Minute

// CancelKey returns the coordination key of a job's cancellation flag.
func CancelKey(jobID string) string {
	return CancelKeyPrefix + jobID
}

// Canceller sets and checks cancellation flags. Cancellation is advisory:
// a running job only stops when its processor reaches a Checkpoint.
type Canceller struct {
	store coord.Store
	ttl   time.Duration
}

// NewCanceller returns a Canceller backed by store. A non-positive ttl uses
// DefaultCancelTTL.
func NewCanceller(store coord.Store, ttl time.Duration) *Canceller {
	if ttl <= 0 {
		ttl = DefaultCancelTTL
	}
	return &Canceller{store: store, ttl: ttl}
}

// Request flags a job as cancelled.
func (c *Canceller) Request(ctx context.Context, jobID string) error {
	if err := c.store.Set(ctx, CancelKey(jobID), "1", c.ttl); err != nil {
		return fmt.Errorf("failed to request cancellation of job %s: %w", jobID, err)
	}
	return nil
}

// IsRequested reports whether a cancellation flag is set for the job.
func (c *Canceller) IsRequested(ctx context.Context, jobID string) (bool, error) {
	_, err := c.store.Get(ctx, CancelKey(jobID))
	if errors.Is(err, coord.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancellation flag of job %s: %w", jobID, err)
	}
	return true, nil
}

// Checkpoint returns an unrecoverable ErrCancelled when the job was
// cancelled. A store failure is logged and treated as not cancelled.
func (c *Canceller) Checkpoint(ctx context.Context, jobID string) error {
	cancelled, err := c.IsRequested(ctx, jobID)
	if err != nil {
		logger.FromContext(ctx).Warn("cancellation check failed", "job_id", jobID, "error", err)
		return nil
	}
	if cancelled {
		return Unrecoverable(ErrCancelled)
	}
	return nil
}
