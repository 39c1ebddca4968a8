package postgres

import (
	"context"
	"log/slog"

	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/store"
)

// PostgresAnalysisLogStore implements store.AnalysisLogStore on the
// nba_analysis_log table.
type PostgresAnalysisLogStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAnalysisLogStore creates an analysis log store. It panics on a nil db.
func NewPostgresAnalysisLogStore(db store.DBTX, logger *slog.Logger) *PostgresAnalysisLogStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAnalysisLogStore{
		db:     db,
		logger: logger.With(slog.String("component", "analysis_log_store")),
	}
}

var _ store.AnalysisLogStore = (*PostgresAnalysisLogStore)(nil)

// Create implements store.AnalysisLogStore.Create.
func (s *PostgresAnalysisLogStore) Create(ctx context.Context, e *domain.AnalysisLogEntry) error {
	query := `
		INSERT INTO nba_analysis_log
			(id, payer_address, session_id, request_params, response, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.PayerAddress,
		e.SessionID,
		jsonOrNull(e.RequestParams),
		jsonOrNull(e.Response),
		e.Error,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to insert analysis log",
			slog.String("entry_id", e.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// jsonOrNull passes raw JSON to a jsonb column, mapping empty input to NULL.
func jsonOrNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
