package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/paygate/internal/cooldown"
	"github.com/phrazzld/paygate/internal/coord"
	"github.com/phrazzld/paygate/internal/nbasync"
	"github.com/phrazzld/paygate/internal/task"
)

func setupSync(t *testing.T) (chi.Router, *task.Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := task.NewQueue(client, nbasync.QueueName, task.QueueOptions{})
	coordinator := cooldown.NewCoordinator(coord.NewRedisStore(client), queue, cooldown.Config{
		Window:           30 * time.Minute,
		FollowerAttempts: 2,
		FollowerDelay:    time.Millisecond,
	}, discardLogger())
	h := NewSyncHandler(nbasync.NewTriggers(queue, coordinator, 31), discardLogger())

	r := chi.NewRouter()
	r.Post("/sync/{action}", h.Trigger)
	return r, queue
}

func TestSyncTriggerEnqueuesOncePerWindow(t *testing.T) {
	r, queue := setupSync(t)

	rec := doRequest(t, r, http.MethodPost, "/sync/scoreboard?date=2026-02-01&season=ignored", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody(t, rec)
	assert.Equal(t, nbasync.JobScoreboard, first["name"])
	assert.Equal(t, map[string]any{"date": "2026-02-01"}, first["data"])
	assert.Equal(t, task.StateWaiting, first["state"])
	assert.EqualValues(t, 0, first["attemptsMade"])

	rec = doRequest(t, r, http.MethodPost, "/sync/scoreboard?date=2026-02-02", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["id"], decodeBody(t, rec)["id"])

	counts, err := queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[task.StateWaiting])
}

func TestSyncTriggerValidation(t *testing.T) {
	r, _ := setupSync(t)

	tests := []struct {
		target  string
		message string
	}{
		{"/sync/players", "season is required, e.g. 2024-25"},
		{"/sync/scoreboard?date=02-01-2026", "date must be YYYY-MM-DD"},
		{"/sync/player-game-stats", "date or gameId is required"},
		{"/sync/range?from=2026-02-01", "from/to are required, e.g. 2026-02-01"},
		{"/sync/range?from=2026-01-01&to=2026-03-01", "range too large, max days = 31"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := doRequest(t, r, http.MethodPost, tt.target, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
		})
	}

	// Rejected requests leave the window open.
	rec := doRequest(t, r, http.MethodPost, "/sync/players?season=2024-25", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncTriggerUnknownAction(t *testing.T) {
	r, _ := setupSync(t)

	rec := doRequest(t, r, http.MethodPost, "/sync/everything", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown sync action", decodeBody(t, rec)["error"])
}

func TestSyncTriggerCooldownWithoutJob(t *testing.T) {
	r, queue := setupSync(t)

	rec := doRequest(t, r, http.MethodPost, "/sync/injury-report", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["id"].(string)

	removed, _, err := queue.Remove(context.Background(), id)
	require.NoError(t, err)
	require.True(t, removed)

	rec = doRequest(t, r, http.MethodPost, "/sync/injury-report", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))
	assert.Equal(t, "manual sync cooldown active; retry after 1800000ms", decodeBody(t, rec)["error"])
}

func TestSyncTriggerRoutesEveryAction(t *testing.T) {
	r, _ := setupSync(t)

	// Without parameters each known action reaches its own validation.
	for _, action := range []string{
		"final-results",
		"injury-report",
		"player-game-stats",
		"player-season-teams",
		"players",
		"range",
		"scoreboard",
	} {
		rec := doRequest(t, r, http.MethodPost, "/sync/"+action, "", nil)
		assert.NotEqual(t, http.StatusNotFound, rec.Code, action)
	}
}
