package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/paygate/internal/config"
	"github.com/phrazzld/paygate/internal/task"
	"github.com/phrazzld/paygate/internal/x402"
)

func testConfig(redisAddr string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			LogLevel:        "info",
			Environment:     "test",
			ShutdownTimeout: time.Second,
		},
		Redis: config.RedisConfig{Addr: redisAddr, KeyPrefix: "paygate-test"},
		X402: config.X402Config{
			Enabled:            true,
			PayTo:              "0x52908400098527886E0F7030069857D2E4169EE7",
			FacilitatorURL:     x402.DefaultFacilitatorURL,
			Network:            "eip155:84532",
			Price:              "$0.001",
			MaxTimeoutSeconds:  60,
			FacilitatorTimeout: time.Second,
			ProtectTasks:       true,
		},
		Session: config.SessionConfig{
			Mode:          "cookie",
			TTL:           time.Hour,
			CookieName:    "x402_session",
			SweepInterval: time.Minute,
		},
		Task: config.TaskConfig{
			WorkerCount:          1,
			Attempts:             1,
			KeepCompleted:        10,
			KeepFailed:           10,
			CancelTTL:            time.Minute,
			LockDuration:         time.Second,
			StalledCheckInterval: time.Second,
			PollTimeout:          20 * time.Millisecond,
			PromoteInterval:      20 * time.Millisecond,
		},
		Sync: config.SyncConfig{
			WorkerCount:      1,
			Attempts:         1,
			Cooldown:         time.Minute,
			FollowerAttempts: 1,
			KeepCompleted:    5,
			KeepFailed:       20,
			ScoreboardCron:   "*/10 * * * *",
			FinalResultsCron: "*/15 * * * *",
			HourlyCron:       "0 * * * *",
			InjuryReportCron: "30 * * * *",
		},
		NSQ:     config.NSQConfig{IngestTopic: "nba.ingest"},
		LLM:     config.LLMConfig{Model: "gemini-2.0-flash"},
		Tracing: config.TracingConfig{ServiceName: "paygate-test"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestApp(t *testing.T, mutate func(*config.Config)) (*application, http.Handler) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Validate(cfg))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := newApplication(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	return app, app.setupRouter()
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func TestNewApplicationFailsWithoutRedis(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := newApplication(context.Background(), cfg, log)

	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestRouterHealthAndMetrics(t *testing.T) {
	_, router := newTestApp(t, nil)

	rec := serve(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"redis":"up"}}`, rec.Body.String())

	rec = serve(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `paygate_http_requests_total{method="GET",route="/health",status="200"}`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouterChallengesProtectedRoutes(t *testing.T) {
	_, router := newTestApp(t, nil)

	for _, target := range []string{"/tasks?capability=nba.matchup_brief", "/nba/analysis"} {
		rec := serve(router, http.MethodPost, target, `{}`)
		assert.Equal(t, http.StatusPaymentRequired, rec.Code, target)
		assert.NotEmpty(t, rec.Header().Get(x402.HeaderPaymentRequired), target)
	}

	// Task reads stay public.
	rec := serve(router, http.MethodGet, "/tasks/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterWithoutPayments(t *testing.T) {
	app, router := newTestApp(t, func(cfg *config.Config) {
		cfg.X402.Enabled = false
	})

	rec := serve(router, http.MethodPost, "/tasks?capability=nba.matchup_brief", `{"date":"2026-02-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	job, err := app.taskQueue.GetJob(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, task.StateWaiting, job.State)

	// No database: analysis and conflicts degrade to 503.
	rec = serve(router, http.MethodPost, "/nba/analysis", `{"date":"2026-02-01","home":"BOS","away":"NYK"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = serve(router, http.MethodGet, "/nba/conflicts", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterOpenTasksRouteWhenUnprotected(t *testing.T) {
	_, router := newTestApp(t, func(cfg *config.Config) {
		cfg.X402.ProtectTasks = false
	})

	rec := serve(router, http.MethodPost, "/tasks?capability=nba.matchup_full", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodPost, "/nba/analysis", `{}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestRunProcessesTasksUntilCancelled(t *testing.T) {
	app, router := newTestApp(t, func(cfg *config.Config) {
		cfg.X402.Enabled = false
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, roles{workers: true}) }()

	rec := serve(router, http.MethodPost, "/tasks?capability=nba.matchup_brief", `{"date":"2026-02-01","home":"BOS","away":"NYK"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Without a database the capability settles as failed.
	require.Eventually(t, func() bool {
		job, err := app.taskQueue.GetJob(context.Background(), "1")
		return err == nil && job.State == task.StateFailed
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestQueueOptionsUseTheirOwnSections(t *testing.T) {
	cfg := testConfig("127.0.0.1:6379")
	cfg.Sync.Attempts = 3
	cfg.Sync.Backoff = 30 * time.Second

	tasks := taskQueueOptions(cfg)
	assert.Equal(t, 10, tasks.KeepCompleted)
	assert.Equal(t, 10, tasks.KeepFailed)
	assert.Equal(t, 1, tasks.DefaultJobOptions.Attempts)

	syncs := syncQueueOptions(cfg)
	assert.Equal(t, "paygate-test", syncs.Prefix)
	assert.Equal(t, 5, syncs.KeepCompleted)
	assert.Equal(t, 20, syncs.KeepFailed)
	assert.Equal(t, 3, syncs.DefaultJobOptions.Attempts)
	assert.Equal(t, task.Backoff{Type: task.BackoffExponential, Delay: 30 * time.Second}, syncs.DefaultJobOptions.Backoff)
}

func TestServeHTTPEndsOpenStreamsOnShutdown(t *testing.T) {
	app, _ := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	})

	opened := make(chan struct{})
	released := make(chan struct{})
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(opened)
		<-r.Context().Done()
		close(released)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.serveHTTP(ctx, ln, stream) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	<-opened

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	select {
	case <-released:
	default:
		t.Fatal("stream handler still running after shutdown")
	}
}
