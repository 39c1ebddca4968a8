package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/paygate/internal/api/shared"
	"github.com/phrazzld/paygate/internal/capability"
	"github.com/phrazzld/paygate/internal/paygate"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/task"
)

// TaskQueue is the part of the capability queue the task endpoints use.
type TaskQueue interface {
	Add(ctx context.Context, name string, data any, opts *task.JobOptions) (*task.Job, error)
	GetJob(ctx context.Context, id string) (*task.Job, error)
	Remove(ctx context.Context, id string) (bool, string, error)
	Subscribe(ctx context.Context) (*task.Subscription, error)
}

// CancelRequester raises the cancellation flag of a job.
type CancelRequester interface {
	Request(ctx context.Context, jobID string) error
}

// TaskEndpoints are the fully-qualified URLs of a task's resources.
type TaskEndpoints struct {
	Task   string `json:"task"`
	Events string `json:"events"`
	Cancel string `json:"cancel"`
}

// CreateTaskResponse is returned when a task is enqueued.
type CreateTaskResponse struct {
	ID         string          `json:"id"`
	Capability capability.Name `json:"capability"`
	Status     task.State      `json:"status"`
	CreatedAt  string          `json:"createdAt"`
	Endpoints  TaskEndpoints   `json:"endpoints"`
}

// TaskError carries the failure of a failed task.
type TaskError struct {
	Message string `json:"message"`
}

// TaskResponse is the status view of a task. Result is present only for
// completed tasks and Error only for failed ones.
type TaskResponse struct {
	ID           string          `json:"id"`
	Capability   string          `json:"capability"`
	State        task.State      `json:"state"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *TaskError      `json:"error,omitempty"`
	PayerAddress *string         `json:"payerAddress"`
}

// CancelTaskResponse reports the outcome of a cancel request. State is the
// observed queue state when the job could not be removed.
type CancelTaskResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
	Removed   bool   `json:"removed"`
	State     string `json:"state,omitempty"`
}

// TaskHandler serves the task gateway endpoints.
type TaskHandler struct {
	queue     TaskQueue
	canceller CancelRequester
	logger    *slog.Logger
	now       func() time.Time

	// PingInterval is the SSE heartbeat period.
	PingInterval time.Duration

	// FlushWindow is how long a stream stays open after a terminal event.
	FlushWindow time.Duration
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(queue TaskQueue, canceller CancelRequester, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{
		queue:        queue,
		canceller:    canceller,
		logger:       log.With("component", "task_handler"),
		now:          time.Now,
		PingInterval: 15 * time.Second,
		FlushWindow:  50 * time.Millisecond,
	}
}

// CreateTask handles POST /tasks?capability={name}.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name, err := capability.Parse(r.URL.Query().Get("capability"))
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	body, err := shared.ReadBody(r)
	if err != nil {
		RespondWithMappedError(w, r, badRequest("invalid request body"))
		return
	}

	now := h.now()
	data, err := capability.BuildPayload(name, body, paygate.PayerFromContext(ctx), now)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	job, err := h.queue.Add(ctx, string(name), data, nil)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	logger.FromContextOrDefault(ctx, h.logger).Info("task created",
		"job_id", job.ID,
		"capability", name)

	base := publicBaseURL(r) + "/tasks/" + job.ID
	shared.RespondWithJSON(w, r, http.StatusOK, CreateTaskResponse{
		ID:         job.ID,
		Capability: name,
		Status:     task.Queued,
		CreatedAt:  isoTime(now),
		Endpoints: TaskEndpoints{
			Task:   base,
			Events: base + "/events",
			Cancel: base + "/cancel",
		},
	})
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	job, err := h.queue.GetJob(r.Context(), id)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, h.taskToResponse(job))
}

// CancelTask handles POST /tasks/{id}/cancel. The cancel flag is always
// raised; a job that has not started is also removed from the queue.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathParam(r, "id")
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	if _, err := h.queue.GetJob(ctx, id); err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	if err := h.canceller.Request(ctx, id); err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	removed, state, err := h.queue.Remove(ctx, id)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	logger.FromContextOrDefault(ctx, h.logger).Info("task cancel requested",
		"job_id", id,
		"removed", removed,
		"state", state)

	resp := CancelTaskResponse{ID: id, Cancelled: true, Removed: removed}
	if !removed {
		resp.State = state
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// RPC handles POST /rpc, which is reserved for a JSON-RPC binding.
func (h *TaskHandler) RPC(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusNotImplemented, map[string]string{
		"error":   "not_implemented",
		"message": "RPC shim is not implemented yet. Use REST endpoints under /tasks.",
	})
}

func (h *TaskHandler) taskToResponse(job *task.Job) TaskResponse {
	state := job.PublicState()
	meta := capability.MetaFromData(job.Data)

	resp := TaskResponse{
		ID:           job.ID,
		Capability:   job.Name,
		State:        state,
		CreatedAt:    isoTime(orNow(job.Timestamp, h.now)),
		UpdatedAt:    isoTime(orNow(firstSet(job.FinishedOn, job.ProcessedOn), h.now)),
		PayerAddress: meta.PayerAddress,
	}

	switch state {
	case task.Completed:
		resp.Result = job.ReturnValue
		if len(resp.Result) == 0 {
			resp.Result = json.RawMessage("null")
		}
	case task.Failed:
		msg := job.FailedReason
		if msg == "" {
			msg = "failed"
		}
		resp.Error = &TaskError{Message: msg}
	}
	return resp
}

func firstSet(times ...time.Time) time.Time {
	for _, t := range times {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func orNow(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t
}
