package domain

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ConflictTypeJobFailed marks a sync job that exhausted its attempts.
const ConflictTypeJobFailed = "job_failed"

// Common validation errors for DataConflict
var (
	ErrEmptyConflictID   = errors.New("conflict ID cannot be empty")
	ErrEmptyConflictType = errors.New("conflict type cannot be empty")
)

// DataConflict records data that could not be ingested cleanly, for later
// inspection.
type DataConflict struct {
	ID           uuid.UUID       `json:"id"`
	ConflictType string          `json:"conflictType"`
	PlayerID     *string         `json:"playerId"`
	Season       *int            `json:"season"`
	JobID        *string         `json:"jobId"`
	DetailsJSON  json.RawMessage `json:"detailsJson"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// NewDataConflict creates a conflict record with a fresh id.
func NewDataConflict(conflictType string, details any) (*DataConflict, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	c := &DataConflict{
		ID:           uuid.New(),
		ConflictType: conflictType,
		DetailsJSON:  raw,
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks if the DataConflict has valid data.
func (c *DataConflict) Validate() error {
	if c.ID == uuid.Nil {
		return ErrEmptyConflictID
	}
	if c.ConflictType == "" {
		return ErrEmptyConflictType
	}
	return nil
}

var seasonPattern = regexp.MustCompile(`\d{4}`)

// ParseSeason returns the first four-digit group of s, so "2024-25" gives
// 2024. It reports false when there is none.
func ParseSeason(s string) (int, bool) {
	m := seasonPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}
