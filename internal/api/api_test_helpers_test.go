package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/paygate/internal/capability"
	"github.com/phrazzld/paygate/internal/coord"
	"github.com/phrazzld/paygate/internal/paygate"
	"github.com/phrazzld/paygate/internal/task"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type taskFixture struct {
	client    *redis.Client
	queue     *task.Queue
	canceller *task.Canceller
	handler   *TaskHandler
	router    chi.Router
}

// withPayer stands in for the payment gate on routes under test.
func withPayer(payer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := paygate.WithInfo(r.Context(), paygate.Info{SessionID: "sess-1", PayerAddress: payer})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setupTasks(t *testing.T) *taskFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := task.NewQueue(client, capability.QueueName, task.QueueOptions{})
	canceller := task.NewCanceller(coord.NewRedisStore(client), time.Minute)
	h := NewTaskHandler(queue, canceller, discardLogger())

	r := chi.NewRouter()
	r.With(withPayer("0x52908400098527886E0F7030069857D2E4169EE7")).Post("/tasks", h.CreateTask)
	r.Get("/tasks/{id}", h.GetTask)
	r.Get("/tasks/{id}/events", h.StreamEvents)
	r.Post("/tasks/{id}/cancel", h.CancelTask)
	r.Post("/rpc", h.RPC)

	return &taskFixture{client: client, queue: queue, canceller: canceller, handler: h, router: r}
}

// startWorker runs p on the fixture queue until the test ends.
func (f *taskFixture) startWorker(t *testing.T, p task.ProcessorFunc) {
	t.Helper()
	w := task.NewWorker(f.queue, p, task.WorkerConfig{
		Concurrency:          1,
		LockDuration:         time.Second,
		StalledCheckInterval: time.Second,
		PollTimeout:          20 * time.Millisecond,
		PromoteInterval:      10 * time.Millisecond,
	}, discardLogger())
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
}

func (f *taskFixture) waitForState(t *testing.T, id, state string) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := f.queue.GetJob(t.Context(), id)
		return err == nil && job.State == state
	}, 3*time.Second, 10*time.Millisecond, "job %s never reached %s", id, state)
}

func doRequest(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}
