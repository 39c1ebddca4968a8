package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/paygate/internal/capability"
	"github.com/phrazzld/paygate/internal/metrics"
	"github.com/phrazzld/paygate/internal/task"
)

type sseEvent struct {
	name string
	data map[string]any
}

// readEvent reads one SSE frame. It returns io.EOF when the stream ends.
func readEvent(t *testing.T, r *bufio.Reader) (sseEvent, error) {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev, nil
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data))
		}
	}
}

func openStream(t *testing.T, srv *httptest.Server, id string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/tasks/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func TestStreamEventsRelaysLifecycle(t *testing.T) {
	f := setupTasks(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)
	base := testutil.ToFloat64(metrics.SSEStreamsActive)

	job, err := f.queue.Add(context.Background(), string(capability.MatchupBrief), map[string]any{}, nil)
	require.NoError(t, err)

	resp, r := openStream(t, srv, job.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	ev, err := readEvent(t, r)
	require.NoError(t, err)
	assert.Equal(t, "state", ev.name)
	assert.Equal(t, job.ID, ev.data["id"])
	assert.Equal(t, "queued", ev.data["state"])
	assert.NotEmpty(t, ev.data["at"])

	f.startWorker(t, func(ctx context.Context, job *task.Job, progress task.ProgressFunc) (any, error) {
		if err := progress(ctx, map[string]any{"stage": "loading"}); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})

	var names []string
	var progress map[string]any
	for {
		ev, err := readEvent(t, r)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, job.ID, ev.data["jobId"])
		assert.NotEmpty(t, ev.data["at"])
		names = append(names, ev.name)
		if ev.name == task.EventProgress {
			progress = ev.data
		}
	}

	assert.Equal(t, []string{task.EventActive, task.EventProgress, task.EventCompleted}, names)
	assert.Equal(t, map[string]any{"stage": "loading"}, progress["data"])

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.SSEStreamsActive) == base
	}, time.Second, 10*time.Millisecond)
}

func TestStreamEventsTerminalJobClosesAfterState(t *testing.T) {
	f := setupTasks(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	f.startWorker(t, func(ctx context.Context, job *task.Job, progress task.ProgressFunc) (any, error) {
		return "done", nil
	})
	job, err := f.queue.Add(context.Background(), string(capability.MatchupBrief), map[string]any{}, nil)
	require.NoError(t, err)
	f.waitForState(t, job.ID, task.StateCompleted)

	_, r := openStream(t, srv, job.ID)

	ev, err := readEvent(t, r)
	require.NoError(t, err)
	assert.Equal(t, "state", ev.name)
	assert.Equal(t, "completed", ev.data["state"])

	_, err = readEvent(t, r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamEventsHeartbeat(t *testing.T) {
	f := setupTasks(t)
	f.handler.PingInterval = 10 * time.Millisecond
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	job, err := f.queue.Add(context.Background(), string(capability.MatchupBrief), map[string]any{}, nil)
	require.NoError(t, err)

	_, r := openStream(t, srv, job.ID)

	ev, err := readEvent(t, r)
	require.NoError(t, err)
	require.Equal(t, "state", ev.name)

	ev, err = readEvent(t, r)
	require.NoError(t, err)
	assert.Equal(t, "ping", ev.name)
	assert.NotEmpty(t, ev.data["at"])
}

func TestStreamEventsIgnoresOtherJobs(t *testing.T) {
	f := setupTasks(t)
	f.handler.PingInterval = 50 * time.Millisecond
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	watched, err := f.queue.Add(ctx, string(capability.MatchupBrief), map[string]any{}, nil)
	require.NoError(t, err)

	_, r := openStream(t, srv, watched.ID)
	ev, err := readEvent(t, r)
	require.NoError(t, err)
	require.Equal(t, "state", ev.name)

	_, err = f.queue.Add(ctx, string(capability.MatchupBrief), map[string]any{}, nil)
	require.NoError(t, err)

	ev, err = readEvent(t, r)
	require.NoError(t, err)
	assert.Equal(t, "ping", ev.name)
}

func TestStreamEventsUnknownTask(t *testing.T) {
	f := setupTasks(t)
	base := testutil.ToFloat64(metrics.SSEStreamsActive)

	rec := doRequest(t, f.router, http.MethodGet, "/tasks/404/events", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "task not found", decodeBody(t, rec)["error"])
	assert.Equal(t, base, testutil.ToFloat64(metrics.SSEStreamsActive))
}

func TestStreamEventsClientDisconnectReleasesSubscription(t *testing.T) {
	f := setupTasks(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)
	base := testutil.ToFloat64(metrics.SSEStreamsActive)

	job, err := f.queue.Add(context.Background(), string(capability.MatchupBrief), map[string]any{}, nil)
	require.NoError(t, err)

	subscribers := func() int64 {
		counts, err := f.client.PubSubNumSub(context.Background(), "paygate:a2a:events").Result()
		if err != nil {
			return -1
		}
		return counts["paygate:a2a:events"]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/tasks/"+job.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	ev, err := readEvent(t, bufio.NewReader(resp.Body))
	require.NoError(t, err)
	require.Equal(t, "state", ev.name)
	assert.Equal(t, int64(1), subscribers())

	cancel()

	assert.Eventually(t, func() bool { return subscribers() == 0 },
		2*time.Second, 10*time.Millisecond, "event bus subscription outlived the client")
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.SSEStreamsActive) == base
	}, 2*time.Second, 10*time.Millisecond)
}
