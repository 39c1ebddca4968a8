package nbasync

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/store"
	"github.com/phrazzld/paygate/internal/task"
)

// FailureDetails is stored as the details of a job_failed conflict.
type FailureDetails struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NewFailureRecorder returns a task.FailureHandler that records a
// job_failed conflict for every sync job that settles failed. With a nil
// store, or when the write fails, the conflict is logged instead.
func NewFailureRecorder(conflicts store.ConflictStore, logger *slog.Logger) task.FailureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "nba_sync_conflicts"))

	return func(ctx context.Context, job *task.Job, jobErr error) {
		c, err := conflictFor(job, jobErr)
		if err != nil {
			log.Error("failed to build conflict record", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			return
		}

		if conflicts != nil {
			err = conflicts.Create(ctx, c)
			if err == nil {
				return
			}
		}

		attrs := []any{
			slog.String("conflict_type", c.ConflictType),
			slog.String("job_id", job.ID),
			slog.String("job_name", job.Name),
			slog.String("details", string(c.DetailsJSON)),
		}
		if c.Season != nil {
			attrs = append(attrs, slog.Int("season", *c.Season))
		}
		if err != nil {
			attrs = append(attrs, slog.String("store_error", err.Error()))
		}
		log.Warn("sync job failed; conflict not stored", attrs...)
	}
}

func conflictFor(job *task.Job, jobErr error) (*domain.DataConflict, error) {
	message := "unknown error"
	if jobErr != nil {
		message = jobErr.Error()
	}

	c, err := domain.NewDataConflict(domain.ConflictTypeJobFailed, FailureDetails{Name: job.Name, Message: message})
	if err != nil {
		return nil, err
	}

	jobID := job.ID
	c.JobID = &jobID

	var params struct {
		Season any `json:"season"`
	}
	if job.DecodeData(&params) == nil && params.Season != nil {
		if season, ok := domain.ParseSeason(seasonString(params.Season)); ok {
			c.Season = &season
		}
	}
	return c, nil
}

func seasonString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
