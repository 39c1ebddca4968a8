package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/store"
)

// gameColumns selects a game joined with both team abbreviations.
// Queries using it alias games as g, home teams as ht and away teams as at.
const gameColumns = `
	g.id, g.game_date, g.date_time_utc, g.status,
	g.home_team_id, g.away_team_id, ht.abbrev, at.abbrev,
	g.home_score, g.away_score
`

const gameJoins = `
	FROM games g
	JOIN teams ht ON ht.id = g.home_team_id
	JOIN teams at ON at.id = g.away_team_id
`

// PostgresGameStore implements store.MatchupReader over the teams, games
// and injury_report_entries tables.
type PostgresGameStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresGameStore creates a game store. It panics on a nil db.
func NewPostgresGameStore(db store.DBTX, logger *slog.Logger) *PostgresGameStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresGameStore{
		db:     db,
		logger: logger.With(slog.String("component", "game_store")),
	}
}

var _ store.MatchupReader = (*PostgresGameStore)(nil)

// GetMatchupContext implements store.MatchupReader.GetMatchupContext.
// Unknown teams are reported as store.ErrGameNotFound.
func (s *PostgresGameStore) GetMatchupContext(ctx context.Context, q domain.MatchupQuery) (*domain.MatchupContext, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	q = q.Normalize()

	date, err := domain.ParseDate(q.Date)
	if err != nil {
		return nil, err
	}

	home, err := s.resolveTeam(ctx, q.Home)
	if err != nil {
		return nil, err
	}
	away, err := s.resolveTeam(ctx, q.Away)
	if err != nil {
		return nil, err
	}

	games, err := s.queryGames(ctx, `SELECT `+gameColumns+gameJoins+`
		WHERE g.game_date = $1 AND g.home_team_id = $2 AND g.away_team_id = $3
		LIMIT 1`, date, home.ID, away.ID)
	if err != nil {
		log.Error("failed to load game",
			slog.String("date", q.Date),
			slog.String("error", err.Error()))
		return nil, err
	}
	if len(games) == 0 {
		return nil, store.ErrGameNotFound
	}

	mc := &domain.MatchupContext{
		Game:     games[0],
		HomeTeam: *home,
		AwayTeam: *away,
	}

	if mc.RecentHome, err = s.recentGames(ctx, home.ID, date, q.RecentLimit); err != nil {
		return nil, err
	}
	if mc.RecentAway, err = s.recentGames(ctx, away.ID, date, q.RecentLimit); err != nil {
		return nil, err
	}

	mc.HeadToHead, err = s.queryGames(ctx, `SELECT `+gameColumns+gameJoins+`
		WHERE ((g.home_team_id = $1 AND g.away_team_id = $2) OR (g.home_team_id = $2 AND g.away_team_id = $1))
			AND g.game_date < $3
		ORDER BY g.game_date DESC
		LIMIT $4`, home.ID, away.ID, date, q.MatchupLimit)
	if err != nil {
		return nil, err
	}

	if mc.Injuries, err = s.latestInjuries(ctx, date, home.Abbrev, away.Abbrev); err != nil {
		return nil, err
	}

	return mc, nil
}

// resolveTeam matches ident against team abbreviations, then full names,
// ignoring case.
func (s *PostgresGameStore) resolveTeam(ctx context.Context, ident string) (*domain.Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, abbrev, name
		FROM teams
		WHERE upper(abbrev) = $1 OR upper(name) = $1
		ORDER BY (upper(abbrev) = $1) DESC
		LIMIT 1`, ident)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, MapError(err)
		}
		return nil, fmt.Errorf("%w: %s", store.ErrGameNotFound, ident)
	}

	var t domain.Team
	if err := rows.Scan(&t.ID, &t.Abbrev, &t.Name); err != nil {
		return nil, MapError(err)
	}
	return &t, nil
}

// recentGames returns the latest scored games of a team before date.
func (s *PostgresGameStore) recentGames(ctx context.Context, teamID string, before time.Time, limit int) ([]domain.Game, error) {
	return s.queryGames(ctx, `SELECT `+gameColumns+gameJoins+`
		WHERE (g.home_team_id = $1 OR g.away_team_id = $1)
			AND g.game_date < $2
			AND g.home_score IS NOT NULL AND g.away_score IS NOT NULL
		ORDER BY g.game_date DESC
		LIMIT $3`, teamID, before, limit)
}

func (s *PostgresGameStore) queryGames(ctx context.Context, query string, args ...any) ([]domain.Game, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	games := []domain.Game{}
	for rows.Next() {
		var (
			g         domain.Game
			dateTime  sql.NullTime
			status    sql.NullString
			homeScore sql.NullInt64
			awayScore sql.NullInt64
		)
		if err := rows.Scan(&g.ID, &g.GameDate, &dateTime, &status,
			&g.HomeTeamID, &g.AwayTeamID, &g.HomeAbbrev, &g.AwayAbbrev,
			&homeScore, &awayScore); err != nil {
			return nil, MapError(err)
		}
		if dateTime.Valid {
			t := dateTime.Time.UTC()
			g.DateTimeUTC = &t
		}
		g.Status = status.String
		g.HomeScore = nullInt(homeScore)
		g.AwayScore = nullInt(awayScore)
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return games, nil
}

// latestInjuries returns both teams' entries from the newest report filed
// on or before date.
func (s *PostgresGameStore) latestInjuries(ctx context.Context, date time.Time, home, away string) ([]domain.InjuryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_date, team_abbrev, player_name, coalesce(status, ''), coalesce(description, '')
		FROM injury_report_entries
		WHERE report_date = (
			SELECT max(report_date) FROM injury_report_entries WHERE report_date <= $1
		)
			AND upper(team_abbrev) IN (upper($2), upper($3))
		ORDER BY team_abbrev, player_name`, date, home, away)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	entries := []domain.InjuryEntry{}
	for rows.Next() {
		var e domain.InjuryEntry
		if err := rows.Scan(&e.ReportDate, &e.TeamAbbrev, &e.PlayerName, &e.Status, &e.Description); err != nil {
			return nil, MapError(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return entries, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
