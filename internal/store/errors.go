package store

import (
	"errors"
	"fmt"
)

// Store errors shared by every implementation. Callers match them with
// errors.Is; implementations wrap them with the failing entity or query.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrDuplicate     = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUnavailable is returned by the placeholder stores installed when no
	// database is configured. It never goes away without a restart.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConnection marks a failure to reach a configured database. Unlike
	// ErrUnavailable it may clear on its own.
	ErrConnection = errors.New("database connection failed")

	// ErrGameNotFound indicates that no game matches a matchup query,
	// including queries naming an unknown team.
	ErrGameNotFound = fmt.Errorf("%w: game", ErrNotFound)
)
