package store

import (
	"context"

	"github.com/phrazzld/paygate/internal/domain"
)

// MatchupReader reads the context of a game for analysis.
type MatchupReader interface {
	// GetMatchupContext resolves the game played on q.Date between the two
	// teams, matching abbreviations or names, and loads recent form,
	// head-to-head results and the latest injury report.
	// Returns ErrGameNotFound when no such game exists.
	GetMatchupContext(ctx context.Context, q domain.MatchupQuery) (*domain.MatchupContext, error)
}

// ConflictStore persists data conflict records.
type ConflictStore interface {
	// Create saves a new conflict record.
	// Returns ErrInvalidEntity if the record fails validation.
	Create(ctx context.Context, c *domain.DataConflict) error

	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.DataConflict, error)
}

// AnalysisLogStore persists analysis endpoint calls.
type AnalysisLogStore interface {
	// Create saves a log entry.
	Create(ctx context.Context, e *domain.AnalysisLogEntry) error
}
