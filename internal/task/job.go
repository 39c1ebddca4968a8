package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrJobNotFound is returned when a job id does not resolve.
	ErrJobNotFound = errors.New("job not found")

	// ErrCancelled is the failure recorded for a job stopped by a cancel request.
	ErrCancelled = errors.New("cancelled")
)

// Internal job states as stored on the job hash.
const (
	StateWaiting         = "waiting"
	StateDelayed         = "delayed"
	StatePaused          = "paused"
	StatePrioritized     = "prioritized"
	StateWaitingChildren = "waiting-children"
	StateActive          = "active"
	StateCompleted       = "completed"
	StateFailed          = "failed"
)

// State is the public task state.
type State string

const (
	Queued    State = "queued"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
)

// MapState converts an internal queue state into the public vocabulary.
// Unknown states surface as Queued.
func MapState(internal string) State {
	switch internal {
	case StateActive:
		return Running
	case StateCompleted:
		return Completed
	case StateFailed:
		return Failed
	default:
		return Queued
	}
}

// IsTerminal reports whether s is a final state.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed
}

// IsPending reports whether an internal state is one from which a job can
// still be removed before execution.
func IsPending(internal string) bool {
	switch internal {
	case StateWaiting, StateDelayed, StatePaused, StatePrioritized, StateWaitingChildren:
		return true
	}
	return false
}

// Backoff types.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Backoff controls the delay between attempts.
type Backoff struct {
	Type  string
	Delay time.Duration
}

// Next returns the delay before the next attempt, given how many attempts
// have been made so far.
func (b Backoff) Next(attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential || attemptsMade < 1 {
		return b.Delay
	}
	shift := attemptsMade - 1
	if shift > 20 {
		shift = 20
	}
	return b.Delay * time.Duration(1<<shift)
}

// JobOptions tune a single job.
type JobOptions struct {
	Attempts int
	Backoff  Backoff
	Delay    time.Duration
}

// Job is a snapshot of a job hash.
type Job struct {
	ID           string
	Name         string
	Data         json.RawMessage
	State        string
	AttemptsMade int
	Attempts     int
	Backoff      Backoff
	Progress     json.RawMessage
	ReturnValue  json.RawMessage
	FailedReason string
	Timestamp    time.Time
	ProcessedOn  time.Time
	FinishedOn   time.Time
}

// PublicState returns the job's public state.
func (j *Job) PublicState() State {
	return MapState(j.State)
}

// DecodeData unmarshals the job payload into v.
func (j *Job) DecodeData(v any) error {
	if len(j.Data) == 0 {
		return nil
	}
	return json.Unmarshal(j.Data, v)
}

// Representation is the JSON shape returned for a job by trigger endpoints.
type Representation struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	State        string          `json:"state"`
	Timestamp    int64           `json:"timestamp"`
	AttemptsMade int             `json:"attemptsMade"`
}

// Represent returns the trigger-endpoint view of j.
func (j *Job) Represent() Representation {
	data := j.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return Representation{
		ID:           j.ID,
		Name:         j.Name,
		Data:         data,
		State:        j.State,
		Timestamp:    j.Timestamp.UnixMilli(),
		AttemptsMade: j.AttemptsMade,
	}
}

func jobFromHash(id string, h map[string]string) (*Job, error) {
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j := &Job{
		ID:           id,
		Name:         h["name"],
		State:        h["state"],
		AttemptsMade: atoi(h["attemptsMade"]),
		Attempts:     atoi(h["attempts"]),
		Backoff: Backoff{
			Type:  h["backoffType"],
			Delay: time.Duration(atoi64(h["backoffDelay"])) * time.Millisecond,
		},
		FailedReason: h["failedReason"],
		Timestamp:    msTime(h["timestamp"]),
		ProcessedOn:  msTime(h["processedOn"]),
		FinishedOn:   msTime(h["finishedOn"]),
	}
	if v := h["data"]; v != "" {
		j.Data = json.RawMessage(v)
	}
	if v := h["progress"]; v != "" {
		j.Progress = json.RawMessage(v)
	}
	if v := h["returnvalue"]; v != "" {
		j.ReturnValue = json.RawMessage(v)
	}
	return j, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func msTime(s string) time.Time {
	ms := atoi64(s)
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// unrecoverableError marks an error that must not be retried.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable wraps err so the worker fails the job without retrying.
// The job's failure reason is err's own message.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err was wrapped with Unrecoverable.
func IsUnrecoverable(err error) bool {
	var u *unrecoverableError
	return errors.As(err, &u)
}
