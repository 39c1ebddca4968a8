package capability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/task"
)

// Progress stages reported while a capability runs.
const (
	StageStarted      = "started"
	StageFetchContext = "fetch_context"
	StageAnalyze      = "analyze"
	StageCompleted    = "completed"
)

// Progress is the payload of a progress event.
type Progress struct {
	Stage string `json:"stage"`
	At    string `json:"at"`
}

// Handler runs one capability on raw job data.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

type route struct {
	stage   string
	handler Handler
}

// Processor runs capability jobs. Cancellation is checked before the job
// starts and again after the capability's stage is reported, right before
// the handler is invoked.
type Processor struct {
	routes    map[Name]route
	canceller *task.Canceller
	now       func() time.Time
}

// NewProcessor returns a Processor dispatching to service.
func NewProcessor(service *Service, canceller *task.Canceller) *Processor {
	return &Processor{
		routes: map[Name]route{
			MatchupBrief: {stage: StageFetchContext, handler: service.Brief},
			MatchupFull:  {stage: StageAnalyze, handler: service.Full},
		},
		canceller: canceller,
		now:       time.Now,
	}
}

// Process implements task.Processor.
func (p *Processor) Process(ctx context.Context, job *task.Job, progress task.ProgressFunc) (any, error) {
	if err := p.canceller.Checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}

	p.report(ctx, progress, StageStarted)

	r, ok := p.routes[Name(job.Name)]
	if !ok {
		p.report(ctx, progress, StageCompleted)
		return Failure{OK: false, Error: FailureUnknownCapability}, nil
	}

	p.report(ctx, progress, r.stage)
	if err := p.canceller.Checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}

	result, err := r.handler(ctx, job.Data)
	if err != nil {
		return nil, err
	}

	p.report(ctx, progress, StageCompleted)
	return result, nil
}

// report publishes a stage. Progress is informational, so failures are
// only logged.
func (p *Processor) report(ctx context.Context, progress task.ProgressFunc, stage string) {
	err := progress(ctx, Progress{Stage: stage, At: p.now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		logger.FromContext(ctx).Warn("failed to report progress", "stage", stage, "error", err)
	}
}
