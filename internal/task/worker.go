package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/phrazzld/paygate/internal/metrics"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/platform/tracing"
)

// WorkerConfig holds configuration for a Worker
type WorkerConfig struct {
	// Concurrency determines how many jobs are processed at once
	Concurrency int

	// LockDuration is the lease a worker holds on a running job. It is
	// renewed at half its length while the job runs.
	LockDuration time.Duration

	// StalledCheckInterval defines how often jobs with a lapsed lease are
	// returned to the wait list
	StalledCheckInterval time.Duration

	// PollTimeout bounds each blocking fetch
	PollTimeout time.Duration

	// PromoteInterval defines how often due delayed jobs are promoted
	PromoteInterval time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:          1,
		LockDuration:         30 * time.Second,
		StalledCheckInterval: 30 * time.Second,
		PollTimeout:          time.Second,
		PromoteInterval:      time.Second,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if c.Concurrency < 1 {
		c.Concurrency = d.Concurrency
	}
	if c.LockDuration <= 0 {
		c.LockDuration = d.LockDuration
	}
	if c.StalledCheckInterval <= 0 {
		c.StalledCheckInterval = d.StalledCheckInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = d.PromoteInterval
	}
	return c
}

// ProgressFunc reports progress for the running job.
type ProgressFunc func(ctx context.Context, progress any) error

// Processor executes jobs. The returned value becomes the job's result.
type Processor interface {
	Process(ctx context.Context, job *Job, progress ProgressFunc) (any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *Job, progress ProgressFunc) (any, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, job *Job, progress ProgressFunc) (any, error) {
	return f(ctx, job, progress)
}

// FailureHandler is called once for every job that settles as failed.
type FailureHandler func(ctx context.Context, job *Job, err error)

// Worker pulls jobs from a Queue and runs them through a Processor
type Worker struct {
	queue      *Queue
	processor  Processor
	config     WorkerConfig
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	onFailure  FailureHandler
}

// NewWorker creates a new Worker
func NewWorker(queue *Queue, processor Processor, config WorkerConfig, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("queue", queue.Name())

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		queue:      queue,
		processor:  processor,
		config:     config.withDefaults(),
		logger:     log,
		ctx:        ctx,
		cancelFunc: cancel,
		onFailure:  func(context.Context, *Job, error) {},
	}
}

// SetFailureHandler installs the handler called for terminally failed jobs
func (w *Worker) SetFailureHandler(handler FailureHandler) {
	if handler == nil {
		handler = func(context.Context, *Job, error) {}
	}
	w.onFailure = handler
}

// Start recovers jobs abandoned by a previous run and begins processing
func (w *Worker) Start() error {
	// Requeue jobs whose worker died mid-flight
	recovered, err := w.queue.recoverStalled(w.ctx)
	if err != nil {
		return fmt.Errorf("failed to recover stalled jobs: %w", err)
	}
	if len(recovered) > 0 {
		w.logger.Info("recovered stalled jobs", "count", len(recovered))
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(i)
	}

	w.wg.Add(1)
	go w.maintain()

	return nil
}

// Stop gracefully shuts down the worker. Running jobs are interrupted and
// their leases released so another worker picks them up.
func (w *Worker) Stop() {
	w.cancelFunc()
	w.wg.Wait()
}

func (w *Worker) run(id int) {
	defer w.wg.Done()

	w.logger.Debug("starting worker", "worker_id", id)

	for {
		if w.ctx.Err() != nil {
			w.logger.Debug("stopping worker", "worker_id", id)
			return
		}

		token := uuid.NewString()
		job, err := w.queue.fetch(w.ctx, token, w.config.LockDuration, w.config.PollTimeout)
		if err != nil {
			if w.ctx.Err() != nil {
				continue
			}
			w.logger.Error("failed to fetch job", "worker_id", id, "error", err)
			w.pause(w.config.PollTimeout)
			continue
		}
		if job == nil {
			continue
		}

		w.process(job, token, id)
	}
}

func (w *Worker) pause(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
	case <-t.C:
	}
}

// process runs a single job and settles it
func (w *Worker) process(job *Job, token string, workerID int) {
	log := w.logger.With(
		"job_id", job.ID,
		"job_name", job.Name,
		"worker_id", workerID,
	)
	attempt := job.AttemptsMade + 1

	ctx, span := tracing.StartSpan(w.ctx, "job.process",
		attribute.String("job.queue", w.queue.Name()),
		attribute.String("job.id", job.ID),
		attribute.String("job.name", job.Name),
		attribute.Int("job.attempt", attempt),
	)
	defer span.End()
	ctx = logger.WithContext(ctx, log)

	jobCtx, stopRenew := context.WithCancel(ctx)
	renewed := make(chan struct{})
	go w.renewLock(jobCtx, job.ID, token, log, renewed)

	log.Info("job started", "attempt", attempt)
	start := time.Now()
	result, err := w.invoke(jobCtx, job)
	duration := time.Since(start)

	stopRenew()
	<-renewed

	// Settle even when shutdown has begun
	settleCtx := context.WithoutCancel(ctx)

	if err != nil && w.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		if relErr := w.queue.releaseLock(settleCtx, job.ID, token); relErr != nil {
			log.Error("failed to release interrupted job", "error", relErr)
		}
		log.Info("job interrupted by shutdown", "duration_ms", duration.Milliseconds())
		return
	}

	if err == nil {
		if cErr := w.queue.complete(settleCtx, job, token, result); cErr != nil {
			tracing.SetSpanError(ctx, cErr)
			log.Error("failed to record job completion", "error", cErr)
			return
		}
		metrics.RecordJob(w.queue.Name(), "completed", duration)
		log.Info("job completed", "duration_ms", duration.Milliseconds())
		return
	}

	tracing.SetSpanError(ctx, err)

	retry := !IsUnrecoverable(err) && attempt < job.Attempts
	var delay time.Duration
	if retry {
		delay = job.Backoff.Next(attempt)
	}

	terminal, fErr := w.queue.fail(settleCtx, job, token, err.Error(), retry, delay)
	if fErr != nil {
		log.Error("failed to record job failure", "error", fErr, "job_error", err)
		return
	}

	log.Error("job failed",
		"duration_ms", duration.Milliseconds(),
		"attempt", attempt,
		"error", err,
		"retry", retry,
	)

	if !terminal {
		metrics.RecordJob(w.queue.Name(), "retried", duration)
		return
	}

	metrics.RecordJob(w.queue.Name(), "failed", duration)
	job.AttemptsMade = attempt
	job.State = StateFailed
	job.FailedReason = err.Error()
	w.onFailure(settleCtx, job, err)
}

// invoke runs the processor, turning a panic into a failed attempt
func (w *Worker) invoke(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job processor: %v", r)
		}
	}()

	progress := func(ctx context.Context, p any) error {
		return w.queue.UpdateProgress(ctx, job.ID, p)
	}
	return w.processor.Process(ctx, job, progress)
}

// renewLock extends the job's lease at half its duration until ctx ends
func (w *Worker) renewLock(ctx context.Context, id, token string, log *slog.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.LockDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.queue.extendLock(context.WithoutCancel(ctx), id, token, w.config.LockDuration)
			if err != nil {
				log.Warn("failed to extend job lock", "error", err)
				continue
			}
			if !ok {
				log.Warn("job lock lost")
				return
			}
		}
	}
}

// maintain promotes delayed jobs and recovers stalled ones periodically
func (w *Worker) maintain() {
	defer w.wg.Done()

	promote := time.NewTicker(w.config.PromoteInterval)
	defer promote.Stop()
	stalled := time.NewTicker(w.config.StalledCheckInterval)
	defer stalled.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-promote.C:
			if _, err := w.queue.promoteDelayed(w.ctx); err != nil && w.ctx.Err() == nil {
				w.logger.Error("failed to promote delayed jobs", "error", err)
			}

		case <-stalled.C:
			ids, err := w.queue.recoverStalled(w.ctx)
			if err != nil {
				if w.ctx.Err() == nil {
					w.logger.Error("failed to check for stalled jobs", "error", err)
				}
				continue
			}
			if len(ids) > 0 {
				w.logger.Info("requeued stalled jobs", "count", len(ids))
			}
		}
	}
}
