package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/store"
	"github.com/phrazzld/paygate/internal/task"
)

// Analyzer produces an analysis of a matchup.
type Analyzer interface {
	Analyze(ctx context.Context, mc *domain.MatchupContext) (*domain.Analysis, error)
}

// Response limits.
const (
	maxRecentGames = 5
	maxInjuries    = 20
)

// Failure is the result returned when a capability cannot produce output.
type Failure struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// Failure codes.
const (
	FailureInvalidInput      = "invalid_input"
	FailureGameNotFound      = "game_not_found"
	FailureUnknownCapability = "unknown_capability"
)

// MatchupSummary names the teams of a matchup.
type MatchupSummary struct {
	Date string `json:"date"`
	Home string `json:"home"`
	Away string `json:"away"`
}

// Score is a final or running score.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// GameSummary describes the analysed game.
type GameSummary struct {
	Status      *string `json:"status"`
	DateTimeUTC *string `json:"dateTimeUtc"`
	Score       *Score  `json:"score"`
}

// RecentGame is one entry of recent form or head-to-head history.
type RecentGame struct {
	Date      *string `json:"date"`
	Status    *string `json:"status"`
	HomeScore *int    `json:"homeScore"`
	AwayScore *int    `json:"awayScore"`
	HomeTeam  *string `json:"homeTeam"`
	AwayTeam  *string `json:"awayTeam"`
}

// Recent groups recent results.
type Recent struct {
	Home       []RecentGame `json:"home"`
	Away       []RecentGame `json:"away"`
	HeadToHead []RecentGame `json:"headToHead"`
}

// Injury is one injury report line.
type Injury struct {
	Player      *string `json:"player"`
	Team        *string `json:"team"`
	Status      *string `json:"status"`
	Description *string `json:"description"`
}

// BriefResult is the output of MatchupBrief.
type BriefResult struct {
	OK       bool           `json:"ok"`
	Matchup  MatchupSummary `json:"matchup"`
	Game     GameSummary    `json:"game"`
	Recent   Recent         `json:"recent"`
	Injuries []Injury       `json:"injuries"`
}

// FullResult is the output of MatchupFull and the analysis endpoint.
type FullResult struct {
	OK       bool            `json:"ok"`
	Matchup  MatchupSummary  `json:"matchup"`
	Game     GameSummary     `json:"game"`
	Analysis domain.Analysis `json:"analysis"`
}

// Service implements the capability handlers.
type Service struct {
	matchups store.MatchupReader
	analyzer Analyzer
}

// NewService returns a Service.
func NewService(matchups store.MatchupReader, analyzer Analyzer) *Service {
	return &Service{matchups: matchups, analyzer: analyzer}
}

// Brief runs the brief capability on raw job data.
func (s *Service) Brief(ctx context.Context, data json.RawMessage) (any, error) {
	in, err := DecodeMatchupInput(data)
	if err != nil {
		return inputFailure(err), nil
	}

	mc, err := s.loadContext(ctx, in)
	if errors.Is(err, store.ErrGameNotFound) {
		return Failure{OK: false, Error: FailureGameNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	return BriefResult{
		OK:      true,
		Matchup: summarize(in, mc),
		Game:    gameSummary(mc.Game),
		Recent: Recent{
			Home:       recentGames(mc.RecentHome),
			Away:       recentGames(mc.RecentAway),
			HeadToHead: recentGames(mc.HeadToHead),
		},
		Injuries: injuries(mc.Injuries),
	}, nil
}

// Full runs the full capability on raw job data.
func (s *Service) Full(ctx context.Context, data json.RawMessage) (any, error) {
	in, err := DecodeMatchupInput(data)
	if err != nil {
		return inputFailure(err), nil
	}

	res, err := s.Analyze(ctx, in)
	if errors.Is(err, store.ErrGameNotFound) {
		return Failure{OK: false, Error: FailureGameNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Analyze loads a matchup's context and runs the analyzer on it.
// Returns store.ErrGameNotFound when the game is unknown.
func (s *Service) Analyze(ctx context.Context, in MatchupInput) (*FullResult, error) {
	mc, err := s.loadContext(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.analyzer == nil {
		return nil, task.Unrecoverable(errors.New("analyzer unavailable"))
	}

	analysis, err := s.analyzer.Analyze(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze matchup: %w", err)
	}

	return &FullResult{
		OK:       true,
		Matchup:  summarize(in, mc),
		Game:     gameSummary(mc.Game),
		Analysis: *analysis,
	}, nil
}

func (s *Service) loadContext(ctx context.Context, in MatchupInput) (*domain.MatchupContext, error) {
	mc, err := s.matchups.GetMatchupContext(ctx, in.Query())
	if errors.Is(err, store.ErrUnavailable) {
		return nil, task.Unrecoverable(store.ErrUnavailable)
	}
	if err != nil {
		if errors.Is(err, store.ErrGameNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load matchup context: %w", err)
	}
	return mc, nil
}

func inputFailure(err error) Failure {
	f := Failure{OK: false, Error: FailureInvalidInput}
	var ie *InputError
	if errors.As(err, &ie) {
		f.Details = ie.Details
	}
	return f
}

func summarize(in MatchupInput, mc *domain.MatchupContext) MatchupSummary {
	home, away := in.Home, in.Away
	if mc.HomeTeam.Name != "" {
		home = mc.HomeTeam.Name
	}
	if mc.AwayTeam.Name != "" {
		away = mc.AwayTeam.Name
	}
	return MatchupSummary{Date: in.Date, Home: home, Away: away}
}

func gameSummary(g domain.Game) GameSummary {
	gs := GameSummary{
		Status:      optional(g.Status),
		DateTimeUTC: isoTime(g.DateTimeUTC),
	}
	if g.HasScore() {
		gs.Score = &Score{Home: *g.HomeScore, Away: *g.AwayScore}
	}
	return gs
}

func recentGames(games []domain.Game) []RecentGame {
	if len(games) > maxRecentGames {
		games = games[:maxRecentGames]
	}
	out := make([]RecentGame, 0, len(games))
	for _, g := range games {
		home, away := g.HomeAbbrev, g.AwayAbbrev
		if home == "" {
			home = g.HomeTeamID
		}
		if away == "" {
			away = g.AwayTeamID
		}
		out = append(out, RecentGame{
			Date:      isoTime(g.DateTimeUTC),
			Status:    optional(g.Status),
			HomeScore: g.HomeScore,
			AwayScore: g.AwayScore,
			HomeTeam:  optional(home),
			AwayTeam:  optional(away),
		})
	}
	return out
}

func injuries(entries []domain.InjuryEntry) []Injury {
	if len(entries) > maxInjuries {
		entries = entries[:maxInjuries]
	}
	out := make([]Injury, 0, len(entries))
	for _, e := range entries {
		out = append(out, Injury{
			Player:      optional(e.PlayerName),
			Team:        optional(e.TeamAbbrev),
			Status:      optional(e.Status),
			Description: optional(e.Description),
		})
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isoTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
