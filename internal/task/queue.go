package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces queue keys when QueueOptions.Prefix is empty.
const DefaultPrefix = "paygate"

const promoteBatch = 100

// QueueOptions configure a Queue.
type QueueOptions struct {
	// Prefix namespaces every key of the queue.
	Prefix string
	// KeepCompleted and KeepFailed bound how many settled jobs are retained.
	// Zero or less keeps them all.
	KeepCompleted int
	KeepFailed    int
	// DefaultJobOptions apply to jobs added without options.
	DefaultJobOptions JobOptions
}

// BulkJob is one entry of AddBulk.
type BulkJob struct {
	Name string
	Data any
	Opts *JobOptions
}

// Queue is a durable Redis-backed job queue. Producers and workers in
// different processes share it through Redis alone.
type Queue struct {
	client redis.UniversalClient
	name   string
	base   string
	opts   QueueOptions
	now    func() time.Time
}

// NewQueue returns a queue named name on client.
func NewQueue(client redis.UniversalClient, name string, opts QueueOptions) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.DefaultJobOptions.Attempts < 1 {
		opts.DefaultJobOptions.Attempts = 1
	}
	return &Queue{
		client: client,
		name:   name,
		base:   opts.Prefix + ":" + name,
		opts:   opts,
		now:    time.Now,
	}
}

// WithClock replaces the queue's clock. It is meant for tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string { return q.base + ":" + suffix }
func (q *Queue) jobPrefix() string        { return q.base + ":job:" }
func (q *Queue) jobKey(id string) string  { return q.jobPrefix() + id }
func (q *Queue) lockKey(id string) string { return q.jobKey(id) + ":lock" }
func (q *Queue) eventsKey() string        { return q.key("events") }
func (q *Queue) nowMs() int64             { return q.now().UnixMilli() }

// Add enqueues a single job. Nil opts use the queue's defaults.
func (q *Queue) Add(ctx context.Context, name string, data any, opts *JobOptions) (*Job, error) {
	jobs, err := q.AddBulk(ctx, []BulkJob{{Name: name, Data: data, Opts: opts}})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// AddBulk enqueues several jobs in one transaction.
func (q *Queue) AddBulk(ctx context.Context, entries []BulkJob) ([]*Job, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, len(entries))
	for i, e := range entries {
		data := e.Data
		if data == nil {
			data = struct{}{}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode data for job %q: %w", e.Name, err)
		}
		payloads[i] = raw
	}

	last, err := q.client.IncrBy(ctx, q.key("id"), int64(len(entries))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate job id: %w", err)
	}
	first := last - int64(len(entries)) + 1

	now := q.now()
	jobs := make([]*Job, len(entries))
	readyAt := make([]int64, len(entries))
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range entries {
			opts := q.opts.DefaultJobOptions
			if e.Opts != nil {
				opts = *e.Opts
				if opts.Attempts < 1 {
					opts.Attempts = 1
				}
			}

			id := strconv.FormatInt(first+int64(i), 10)
			state := StateWaiting
			if opts.Delay > 0 {
				state = StateDelayed
			}
			job := &Job{
				ID:        id,
				Name:      e.Name,
				Data:      payloads[i],
				State:     state,
				Attempts:  opts.Attempts,
				Backoff:   opts.Backoff,
				Timestamp: now.UTC(),
			}
			jobs[i] = job

			pipe.HSet(ctx, q.jobKey(id),
				"name", job.Name,
				"data", string(job.Data),
				"state", job.State,
				"attemptsMade", 0,
				"attempts", job.Attempts,
				"backoffType", job.Backoff.Type,
				"backoffDelay", job.Backoff.Delay.Milliseconds(),
				"timestamp", now.UnixMilli(),
			)
			if state == StateDelayed {
				readyAt[i] = now.Add(opts.Delay).UnixMilli()
				pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt[i]), Member: id})
			} else {
				pipe.LPush(ctx, q.key("wait"), id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue jobs: %w", err)
	}

	for i, job := range jobs {
		if job.State == StateDelayed {
			q.publish(ctx, "delayed", map[string]any{"jobId": job.ID, "delay": readyAt[i]})
		} else {
			q.publish(ctx, "waiting", map[string]any{"jobId": job.ID})
		}
	}
	return jobs, nil
}

// GetJob loads a job snapshot. It returns ErrJobNotFound for unknown ids.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	h, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return jobFromHash(id, h)
}

// GetState returns a job's internal state.
func (q *Queue) GetState(ctx context.Context, id string) (string, error) {
	state, err := q.client.HGet(ctx, q.jobKey(id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load state of job %s: %w", id, err)
	}
	return state, nil
}

// UpdateProgress stores progress on a job and publishes a progress event.
func (q *Queue) UpdateProgress(ctx context.Context, id string, progress any) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	ok, err := updateProgressScript.Run(ctx, q.client, []string{q.jobKey(id)}, string(raw)).Int()
	if err != nil {
		return fmt.Errorf("failed to update progress of job %s: %w", id, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	q.publish(ctx, "progress", map[string]any{"jobId": id, "data": json.RawMessage(raw)})
	return nil
}

// Remove deletes a job that has not started executing. It reports whether
// the job was removed and the state it was observed in.
func (q *Queue) Remove(ctx context.Context, id string) (bool, string, error) {
	res, err := removeScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("wait"), q.key("delayed")}, id).Slice()
	if err != nil {
		return false, "", fmt.Errorf("failed to remove job %s: %w", id, err)
	}
	if len(res) != 2 {
		return false, "", fmt.Errorf("failed to remove job %s: unexpected reply %v", id, res)
	}
	removed, _ := res[0].(int64)
	state, _ := res[1].(string)
	if removed == 0 && state == "" {
		return false, "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if removed == 1 {
		q.publish(ctx, "removed", map[string]any{"jobId": id, "prev": state})
	}
	return removed == 1, state, nil
}

// fetch blocks up to timeout for the next job and claims it under token.
// It returns nil without error when nothing arrived.
func (q *Queue) fetch(ctx context.Context, token string, lock, timeout time.Duration) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, q.key("wait"), q.key("active"), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	claimed, err := moveToActiveScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("active"), q.lockKey(id)},
		id, token, lock.Milliseconds(), q.nowMs()).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	if claimed == 0 {
		return nil, nil
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	q.publish(ctx, "active", map[string]any{"jobId": id, "prev": StateWaiting})
	return job, nil
}

// errLockLost reports that a job's lock expired or moved to another worker.
var errLockLost = errors.New("job lock lost")

func (q *Queue) complete(ctx context.Context, job *Job, token string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result of job %s: %w", job.ID, err)
	}
	res, err := completeScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.key("active"), q.key("completed"), q.lockKey(job.ID)},
		job.ID, token, string(raw), q.nowMs(), q.opts.KeepCompleted, q.jobPrefix()).Int()
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	if res < 0 {
		return fmt.Errorf("%w: %s", errLockLost, job.ID)
	}
	q.publish(ctx, "completed", map[string]any{
		"jobId":       job.ID,
		"returnvalue": json.RawMessage(raw),
		"prev":        StateActive,
	})
	return nil
}

// fail records a failed attempt. With retry set the job is delayed by delay
// before its next attempt. It reports whether the job settled as failed.
func (q *Queue) fail(ctx context.Context, job *Job, token, reason string, retry bool, delay time.Duration) (bool, error) {
	retryFlag := "0"
	if retry {
		retryFlag = "1"
	}
	now := q.nowMs()
	res, err := failScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.key("active"), q.key("delayed"), q.key("failed"), q.lockKey(job.ID)},
		job.ID, token, reason, now, retryFlag, delay.Milliseconds(), q.opts.KeepFailed, q.jobPrefix()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to fail job %s: %w", job.ID, err)
	}
	switch res {
	case 1:
		q.publish(ctx, "delayed", map[string]any{"jobId": job.ID, "delay": now + delay.Milliseconds()})
		return false, nil
	case 2:
		q.publish(ctx, "failed", map[string]any{
			"jobId":        job.ID,
			"failedReason": reason,
			"prev":         StateActive,
		})
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", errLockLost, job.ID)
	}
}

func (q *Queue) extendLock(ctx context.Context, id, token string, lock time.Duration) (bool, error) {
	n, err := extendLockScript.Run(ctx, q.client, []string{q.lockKey(id)}, token, lock.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock of job %s: %w", id, err)
	}
	return n == 1, nil
}

func (q *Queue) releaseLock(ctx context.Context, id, token string) error {
	if err := releaseLockScript.Run(ctx, q.client, []string{q.lockKey(id)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock of job %s: %w", id, err)
	}
	return nil
}

// promoteDelayed moves due delayed jobs to the wait list.
func (q *Queue) promoteDelayed(ctx context.Context) (int, error) {
	ids, err := promoteScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("wait")},
		q.nowMs(), q.jobPrefix(), promoteBatch).StringSlice()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	for _, id := range ids {
		q.publish(ctx, "waiting", map[string]any{"jobId": id, "prev": StateDelayed})
	}
	return len(ids), nil
}

// recoverStalled requeues active jobs whose lock lapsed.
func (q *Queue) recoverStalled(ctx context.Context) ([]string, error) {
	ids, err := stalledScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("wait"), q.key("stalled-check")},
		q.jobPrefix()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to recover stalled jobs: %w", err)
	}
	for _, id := range ids {
		q.publish(ctx, "waiting", map[string]any{"jobId": id, "prev": StateActive})
	}
	return ids, nil
}

// Counts returns the number of jobs per list or set, keyed by internal state.
func (q *Queue) Counts(ctx context.Context) (map[string]int64, error) {
	pipe := q.client.Pipeline()
	wait := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return map[string]int64{
		StateWaiting:   wait.Val(),
		StateActive:    active.Val(),
		StateDelayed:   delayed.Val(),
		StateCompleted: completed.Val(),
		StateFailed:    failed.Val(),
	}, nil
}
