package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/store"
)

// PostgresConflictStore implements store.ConflictStore on the
// data_conflicts table.
type PostgresConflictStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresConflictStore creates a conflict store. It panics on a nil db.
// If logger is nil, a default logger will be used.
func NewPostgresConflictStore(db store.DBTX, logger *slog.Logger) *PostgresConflictStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresConflictStore{
		db:     db,
		logger: logger.With(slog.String("component", "conflict_store")),
	}
}

var _ store.ConflictStore = (*PostgresConflictStore)(nil)

// Create implements store.ConflictStore.Create.
// Returns store.ErrInvalidEntity if the record fails validation.
func (s *PostgresConflictStore) Create(ctx context.Context, c *domain.DataConflict) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := c.Validate(); err != nil {
		log.Warn("conflict validation failed during create",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	details := c.DetailsJSON
	if len(details) == 0 {
		details = []byte("{}")
	}

	query := `
		INSERT INTO data_conflicts (id, conflict_type, player_id, season, job_id, details_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.ConflictType,
		c.PlayerID,
		c.Season,
		c.JobID,
		[]byte(details),
		c.CreatedAt,
	)
	if err != nil {
		log.Error("failed to insert conflict",
			slog.String("conflict_id", c.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	log.Debug("conflict recorded",
		slog.String("conflict_id", c.ID.String()),
		slog.String("conflict_type", c.ConflictType))
	return nil
}

// ListRecent implements store.ConflictStore.ListRecent.
func (s *PostgresConflictStore) ListRecent(ctx context.Context, limit int) ([]*domain.DataConflict, error) {
	if limit <= 0 {
		return []*domain.DataConflict{}, nil
	}

	query := `
		SELECT id, conflict_type, player_id, season, job_id, details_json, created_at
		FROM data_conflicts
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list conflicts",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	conflicts := make([]*domain.DataConflict, 0, limit)
	for rows.Next() {
		var (
			c        domain.DataConflict
			playerID sql.NullString
			season   sql.NullInt64
			jobID    sql.NullString
			details  []byte
		)
		if err := rows.Scan(&c.ID, &c.ConflictType, &playerID, &season, &jobID, &details, &c.CreatedAt); err != nil {
			return nil, MapError(err)
		}
		if playerID.Valid {
			c.PlayerID = &playerID.String
		}
		if season.Valid {
			n := int(season.Int64)
			c.Season = &n
		}
		if jobID.Valid {
			c.JobID = &jobID.String
		}
		c.DetailsJSON = details
		conflicts = append(conflicts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return conflicts, nil
}
