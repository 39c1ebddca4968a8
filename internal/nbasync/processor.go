package nbasync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/task"
)

// Ingestor hands a leaf sync job to the service that fetches and stores
// the data. It returns where the job was sent.
type Ingestor interface {
	Ingest(ctx context.Context, job, jobID string, params json.RawMessage) (string, error)
}

// BulkAdder enqueues follow-up jobs.
type BulkAdder interface {
	AddBulk(ctx context.Context, entries []task.BulkJob) ([]*task.Job, error)
}

// RangeResult is returned by sync-range jobs.
type RangeResult struct {
	Dates []string `json:"dates"`
	Jobs  int      `json:"jobs"`
}

// IngestResult is returned by leaf jobs.
type IngestResult struct {
	Published bool   `json:"published"`
	Topic     string `json:"topic"`
}

// SkippedResult is returned for jobs with nothing to do.
type SkippedResult struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

var leafJobs = map[string]bool{
	JobScoreboard:        true,
	JobFinalResults:      true,
	JobPlayerGameStats:   true,
	JobPlayers:           true,
	JobPlayerSeasonTeams: true,
	JobInjuryReport:      true,
}

// Processor runs nba-sync jobs.
type Processor struct {
	queue    BulkAdder
	ingestor Ingestor
	maxDays  int
	logger   *slog.Logger
}

// NewProcessor creates a sync processor. A nil ingestor makes leaf jobs
// complete as skipped.
func NewProcessor(queue BulkAdder, ingestor Ingestor, maxDays int, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		queue:    queue,
		ingestor: ingestor,
		maxDays:  maxDays,
		logger:   logger.With(slog.String("component", "nba_sync_processor")),
	}
}

var _ task.Processor = (*Processor)(nil)

// Process implements task.Processor.
func (p *Processor) Process(ctx context.Context, job *task.Job, _ task.ProgressFunc) (any, error) {
	if job.Name == JobRange {
		return p.expandRange(ctx, job)
	}
	if !leafJobs[job.Name] {
		return SkippedResult{Skipped: true}, nil
	}

	if p.ingestor == nil {
		logger.FromContextOrDefault(ctx, p.logger).Warn("no ingestor configured, skipping sync job",
			slog.String("job_name", job.Name),
			slog.String("job_id", job.ID))
		return SkippedResult{Skipped: true, Reason: "no ingestor configured"}, nil
	}

	topic, err := p.ingestor.Ingest(ctx, job.Name, job.ID, job.Data)
	if err != nil {
		return nil, err
	}
	return IngestResult{Published: true, Topic: topic}, nil
}

// expandRange enqueues one scoreboard and one final-results job per day,
// subject to the mode. Bad ranges will not improve on retry.
func (p *Processor) expandRange(ctx context.Context, job *task.Job) (any, error) {
	var params Params
	if err := job.DecodeData(&params); err != nil {
		return nil, task.Unrecoverable(fmt.Errorf("invalid range params: %w", err))
	}
	if params.From == "" || params.To == "" {
		return nil, task.Unrecoverable(invalid("from/to are required, e.g. 2026-02-01"))
	}

	dates, err := ExpandDates(params.From, params.To, p.maxDays)
	if err != nil {
		return nil, task.Unrecoverable(err)
	}

	entries := make([]task.BulkJob, 0, 2*len(dates))
	for _, date := range dates {
		if params.Mode != ModeFinal {
			entries = append(entries, task.BulkJob{Name: JobScoreboard, Data: Params{Date: date}})
		}
		if params.Mode != ModeScoreboard {
			entries = append(entries, task.BulkJob{Name: JobFinalResults, Data: Params{Date: date}})
		}
	}

	if len(entries) > 0 {
		if _, err := p.queue.AddBulk(ctx, entries); err != nil {
			return nil, fmt.Errorf("failed to enqueue range jobs: %w", err)
		}
	}

	logger.FromContextOrDefault(ctx, p.logger).Info("range expanded",
		slog.String("from", params.From),
		slog.String("to", params.To),
		slog.Int("jobs", len(entries)))
	return RangeResult{Dates: dates, Jobs: len(entries)}, nil
}
