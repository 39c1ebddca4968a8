package postgres

import (
	"context"

	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/store"
)

// The Unavailable stores stand in when no database is configured. Every
// method returns store.ErrUnavailable.
type (
	UnavailableMatchups    struct{}
	UnavailableConflicts   struct{}
	UnavailableAnalysisLog struct{}
)

var (
	_ store.MatchupReader    = UnavailableMatchups{}
	_ store.ConflictStore    = UnavailableConflicts{}
	_ store.AnalysisLogStore = UnavailableAnalysisLog{}
)

func (UnavailableMatchups) GetMatchupContext(context.Context, domain.MatchupQuery) (*domain.MatchupContext, error) {
	return nil, store.ErrUnavailable
}

func (UnavailableConflicts) Create(context.Context, *domain.DataConflict) error {
	return store.ErrUnavailable
}

func (UnavailableConflicts) ListRecent(context.Context, int) ([]*domain.DataConflict, error) {
	return nil, store.ErrUnavailable
}

func (UnavailableAnalysisLog) Create(context.Context, *domain.AnalysisLogEntry) error {
	return store.ErrUnavailable
}
