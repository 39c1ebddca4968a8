package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/store"
	"github.com/phrazzld/paygate/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMatchupReader struct {
	GetMatchupContextFn func(ctx context.Context, q domain.MatchupQuery) (*domain.MatchupContext, error)
}

func (m *mockMatchupReader) GetMatchupContext(ctx context.Context, q domain.MatchupQuery) (*domain.MatchupContext, error) {
	return m.GetMatchupContextFn(ctx, q)
}

type mockAnalyzer struct {
	AnalyzeFn func(ctx context.Context, mc *domain.MatchupContext) (*domain.Analysis, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, mc *domain.MatchupContext) (*domain.Analysis, error) {
	return m.AnalyzeFn(ctx, mc)
}

func intPtr(n int) *int { return &n }

func sampleContext() *domain.MatchupContext {
	tip := time.Date(2025, 2, 1, 0, 30, 0, 0, time.UTC)
	game := func(i int) domain.Game {
		return domain.Game{
			ID:          fmt.Sprintf("g%d", i),
			Status:      "Final",
			DateTimeUTC: &tip,
			HomeAbbrev:  "BOS",
			AwayTeamID:  "1610612752",
			HomeScore:   intPtr(100 + i),
			AwayScore:   intPtr(90),
		}
	}
	var recent []domain.Game
	for i := 0; i < 8; i++ {
		recent = append(recent, game(i))
	}
	var injuries []domain.InjuryEntry
	for i := 0; i < 25; i++ {
		injuries = append(injuries, domain.InjuryEntry{PlayerName: fmt.Sprintf("P%d", i), TeamAbbrev: "BOS", Status: "Out"})
	}
	return &domain.MatchupContext{
		Game:       domain.Game{ID: "g-main", Status: "Scheduled", DateTimeUTC: &tip},
		HomeTeam:   domain.Team{Abbrev: "BOS", Name: "Boston Celtics"},
		AwayTeam:   domain.Team{Abbrev: "NYK"},
		RecentHome: recent,
		RecentAway: recent[:2],
		HeadToHead: nil,
		Injuries:   injuries,
	}
}

const validInput = `{"date":"2025-02-01","home":"bos","away":"NYK"}`

func TestService_Brief(t *testing.T) {
	var seen domain.MatchupQuery
	svc := NewService(&mockMatchupReader{
		GetMatchupContextFn: func(_ context.Context, q domain.MatchupQuery) (*domain.MatchupContext, error) {
			seen = q
			return sampleContext(), nil
		},
	}, nil)

	out, err := svc.Brief(context.Background(), json.RawMessage(validInput))
	require.NoError(t, err)
	assert.Equal(t, "BOS", seen.Home)

	res, ok := out.(BriefResult)
	require.True(t, ok)
	assert.True(t, res.OK)
	assert.Equal(t, MatchupSummary{Date: "2025-02-01", Home: "Boston Celtics", Away: "NYK"}, res.Matchup)
	assert.Len(t, res.Recent.Home, 5)
	assert.Len(t, res.Recent.Away, 2)
	assert.Empty(t, res.Recent.HeadToHead)
	assert.Len(t, res.Injuries, 20)
	assert.Nil(t, res.Game.Score)
	require.NotNil(t, res.Game.DateTimeUTC)
	assert.Equal(t, "2025-02-01T00:30:00Z", *res.Game.DateTimeUTC)

	first := res.Recent.Home[0]
	assert.Equal(t, "BOS", *first.HomeTeam)
	assert.Equal(t, "1610612752", *first.AwayTeam)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"headToHead":[]`)
}

func TestService_BriefFailures(t *testing.T) {
	notFound := NewService(&mockMatchupReader{
		GetMatchupContextFn: func(context.Context, domain.MatchupQuery) (*domain.MatchupContext, error) {
			return nil, store.ErrGameNotFound
		},
	}, nil)

	out, err := notFound.Brief(context.Background(), json.RawMessage(validInput))
	require.NoError(t, err)
	assert.Equal(t, Failure{OK: false, Error: FailureGameNotFound}, out)

	out, err = notFound.Brief(context.Background(), json.RawMessage(`{"home":"BOS"}`))
	require.NoError(t, err)
	failure, ok := out.(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureInvalidInput, failure.Error)
	assert.NotEmpty(t, failure.Details)

	unavailable := NewService(&mockMatchupReader{
		GetMatchupContextFn: func(context.Context, domain.MatchupQuery) (*domain.MatchupContext, error) {
			return nil, store.ErrUnavailable
		},
	}, nil)
	_, err = unavailable.Brief(context.Background(), json.RawMessage(validInput))
	require.Error(t, err)
	assert.Equal(t, "store unavailable", err.Error())
	assert.True(t, task.IsUnrecoverable(err))

	broken := NewService(&mockMatchupReader{
		GetMatchupContextFn: func(context.Context, domain.MatchupQuery) (*domain.MatchupContext, error) {
			return nil, errors.New("connection reset")
		},
	}, nil)
	_, err = broken.Brief(context.Background(), json.RawMessage(validInput))
	require.Error(t, err)
	assert.False(t, task.IsUnrecoverable(err))
}

func TestService_Full(t *testing.T) {
	analysis := &domain.Analysis{HomeWinProbability: 0.62, AwayWinProbability: 0.38, Summary: "Home court", KeyFactors: []string{"rest"}, Model: "gemini-test"}
	svc := NewService(&mockMatchupReader{
		GetMatchupContextFn: func(context.Context, domain.MatchupQuery) (*domain.MatchupContext, error) {
			return sampleContext(), nil
		},
	}, &mockAnalyzer{
		AnalyzeFn: func(_ context.Context, mc *domain.MatchupContext) (*domain.Analysis, error) {
			assert.Equal(t, "g-main", mc.Game.ID)
			return analysis, nil
		},
	})

	out, err := svc.Full(context.Background(), json.RawMessage(validInput))
	require.NoError(t, err)
	res, ok := out.(*FullResult)
	require.True(t, ok)
	assert.True(t, res.OK)
	assert.Equal(t, *analysis, res.Analysis)
	assert.Equal(t, "Boston Celtics", res.Matchup.Home)
}

func TestService_FullAnalyzerError(t *testing.T) {
	svc := NewService(&mockMatchupReader{
		GetMatchupContextFn: func(context.Context, domain.MatchupQuery) (*domain.MatchupContext, error) {
			return sampleContext(), nil
		},
	}, &mockAnalyzer{
		AnalyzeFn: func(context.Context, *domain.MatchupContext) (*domain.Analysis, error) {
			return nil, errors.New("quota exceeded")
		},
	})

	_, err := svc.Full(context.Background(), json.RawMessage(validInput))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	noAnalyzer := NewService(&mockMatchupReader{
		GetMatchupContextFn: func(context.Context, domain.MatchupQuery) (*domain.MatchupContext, error) {
			return sampleContext(), nil
		},
	}, nil)
	_, err = noAnalyzer.Full(context.Background(), json.RawMessage(validInput))
	assert.True(t, task.IsUnrecoverable(err))
}
