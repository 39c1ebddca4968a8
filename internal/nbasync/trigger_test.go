package nbasync_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/phrazzld/paygate/internal/cooldown"
	"github.com/phrazzld/paygate/internal/coord"
	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/nbasync"
	"github.com/phrazzld/paygate/internal/task"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTriggers(t *testing.T, maxDays int) (*nbasync.Triggers, *task.Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := task.NewQueue(client, nbasync.QueueName, task.QueueOptions{})
	coordinator := cooldown.NewCoordinator(coord.NewRedisStore(client), queue, cooldown.Config{
		Window:           30 * time.Minute,
		FollowerAttempts: 3,
		FollowerDelay:    time.Millisecond,
	}, nil)

	return nbasync.NewTriggers(queue, coordinator, maxDays), queue
}

func TestTriggers_Fire(t *testing.T) {
	triggers, queue := setupTriggers(t, 0)
	ctx := context.Background()

	first, err := triggers.Fire(ctx, nbasync.JobScoreboard, nbasync.Params{Date: "2025-01-02"})
	require.NoError(t, err)
	assert.Equal(t, nbasync.JobScoreboard, first.Name)
	assert.JSONEq(t, `{"date":"2025-01-02"}`, string(first.Data))

	second, err := triggers.Fire(ctx, nbasync.JobScoreboard, nbasync.Params{Date: "2025-01-03"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := triggers.Fire(ctx, nbasync.JobInjuryReport, nbasync.Params{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	assert.JSONEq(t, `{}`, string(other.Data))

	counts, err := queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[task.StateWaiting])
}

func TestTriggers_ValidationHappensBeforeClaim(t *testing.T) {
	triggers, _ := setupTriggers(t, 7)
	ctx := context.Background()

	_, err := triggers.Fire(ctx, nbasync.JobPlayers, nbasync.Params{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// A rejected request must not burn the window.
	job, err := triggers.Fire(ctx, nbasync.JobPlayers, nbasync.Params{Season: "2024-25"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"season":"2024-25"}`, string(job.Data))

	_, err = triggers.Fire(ctx, nbasync.JobRange, nbasync.Params{From: "2025-01-01", To: "2025-02-01"})
	assert.EqualError(t, err, "range too large, max days = 7")
}
