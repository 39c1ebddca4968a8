package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDBTX records the last statement and fails every call with err.
type mockDBTX struct {
	err   error
	calls int
	query string
	args  []any
}

func (m *mockDBTX) record(query string, args []any) {
	m.calls++
	m.query = query
	m.args = args
}

func (m *mockDBTX) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	m.record(query, args)
	return nil, m.err
}

func (m *mockDBTX) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	m.record(query, args)
	return nil, m.err
}

func (m *mockDBTX) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	m.record(query, args)
	return nil
}

func TestNewStores_NilDBPanics(t *testing.T) {
	assert.Panics(t, func() { NewPostgresConflictStore(nil, nil) })
	assert.Panics(t, func() { NewPostgresAnalysisLogStore(nil, nil) })
	assert.Panics(t, func() { NewPostgresGameStore(nil, nil) })

	s := NewPostgresConflictStore(&mockDBTX{}, nil)
	assert.NotNil(t, s.logger)
}

func TestConflictStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid entity is rejected before the database", func(t *testing.T) {
		db := &mockDBTX{}
		s := NewPostgresConflictStore(db, nil)

		err := s.Create(ctx, &domain.DataConflict{})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.Zero(t, db.calls)
	})

	t.Run("duplicate maps to ErrDuplicate", func(t *testing.T) {
		db := &mockDBTX{err: &pgconn.PgError{Code: "23505"}}
		s := NewPostgresConflictStore(db, nil)

		c, err := domain.NewDataConflict(domain.ConflictTypeJobFailed, map[string]string{"name": "sync-players"})
		require.NoError(t, err)

		err = s.Create(ctx, c)
		assert.ErrorIs(t, err, store.ErrDuplicate)
		assert.Contains(t, db.query, "INSERT INTO data_conflicts")
		require.Len(t, db.args, 7)
		assert.Equal(t, c.ID, db.args[0])
		assert.Equal(t, domain.ConflictTypeJobFailed, db.args[1])
		assert.JSONEq(t, `{"name":"sync-players"}`, string(db.args[5].([]byte)))
	})

	t.Run("empty details are stored as an empty object", func(t *testing.T) {
		db := &mockDBTX{err: errors.New("boom")}
		s := NewPostgresConflictStore(db, nil)

		c, err := domain.NewDataConflict(domain.ConflictTypeJobFailed, nil)
		require.NoError(t, err)
		c.DetailsJSON = nil

		assert.Error(t, s.Create(ctx, c))
		assert.Equal(t, "{}", string(db.args[5].([]byte)))
	})
}

func TestConflictStore_ListRecent(t *testing.T) {
	ctx := context.Background()

	t.Run("non-positive limit skips the query", func(t *testing.T) {
		db := &mockDBTX{}
		s := NewPostgresConflictStore(db, nil)

		got, err := s.ListRecent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, db.calls)
	})

	t.Run("query failure is returned", func(t *testing.T) {
		db := &mockDBTX{err: errors.New("connection refused")}
		s := NewPostgresConflictStore(db, nil)

		_, err := s.ListRecent(ctx, 50)
		assert.EqualError(t, err, "connection refused")
		assert.Equal(t, []any{50}, db.args)
		assert.Contains(t, db.query, "ORDER BY created_at DESC")
	})
}

func TestAnalysisLogStore_Create(t *testing.T) {
	db := &mockDBTX{err: &pgconn.PgError{Code: "23502", ColumnName: "id"}}
	s := NewPostgresAnalysisLogStore(db, nil)

	entry := domain.NewAnalysisLogEntry("0xabc", "", json.RawMessage(`{"date":"2025-01-01"}`))
	entry.Fail("game_not_found")

	err := s.Create(context.Background(), entry)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)

	require.Len(t, db.args, 8)
	assert.Equal(t, entry.PayerAddress, db.args[1])
	assert.Nil(t, db.args[2].(*string))
	assert.Equal(t, `{"date":"2025-01-01"}`, db.args[3])
	assert.Nil(t, db.args[4])
	assert.Equal(t, "game_not_found", *db.args[5].(*string))
}

func TestGameStore_GetMatchupContext(t *testing.T) {
	ctx := context.Background()

	t.Run("bad date fails before the database", func(t *testing.T) {
		db := &mockDBTX{}
		s := NewPostgresGameStore(db, nil)

		_, err := s.GetMatchupContext(ctx, domain.MatchupQuery{Date: "01/02/2025", Home: "BOS", Away: "NYK"})
		assert.ErrorIs(t, err, domain.ErrInvalidFormat)
		assert.Zero(t, db.calls)
	})

	t.Run("team lookup failure is returned", func(t *testing.T) {
		db := &mockDBTX{err: errors.New("timeout")}
		s := NewPostgresGameStore(db, nil)

		_, err := s.GetMatchupContext(ctx, domain.MatchupQuery{Date: "2025-01-02", Home: " bos ", Away: "nyk"})
		assert.EqualError(t, err, "timeout")
		assert.Equal(t, []any{"BOS"}, db.args)
		assert.Contains(t, db.query, "FROM teams")
	})
}

func TestUnavailableStores(t *testing.T) {
	ctx := context.Background()

	_, err := UnavailableMatchups{}.GetMatchupContext(ctx, domain.MatchupQuery{})
	assert.ErrorIs(t, err, store.ErrUnavailable)

	assert.ErrorIs(t, UnavailableConflicts{}.Create(ctx, &domain.DataConflict{}), store.ErrUnavailable)
	_, err = UnavailableConflicts{}.ListRecent(ctx, 10)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	assert.ErrorIs(t, UnavailableAnalysisLog{}.Create(ctx, &domain.AnalysisLogEntry{}), store.ErrUnavailable)
}

func TestMigrationFiles(t *testing.T) {
	names, err := MigrationFiles()
	require.NoError(t, err)
	require.Len(t, names, 4)
	assert.Equal(t, "00001_create_teams_games.sql", names[0])

	for _, name := range names {
		raw, err := migrationsFS.ReadFile("migrations/" + name)
		require.NoError(t, err)
		body := string(raw)
		assert.True(t, strings.Contains(body, "-- +goose Up"), name)
		assert.True(t, strings.Contains(body, "-- +goose Down"), name)
	}
}

func TestMigrate_UnknownCommand(t *testing.T) {
	err := Migrate(context.Background(), nil, "sideways", nil)
	assert.ErrorContains(t, err, `unknown migration command "sideways"`)
}
