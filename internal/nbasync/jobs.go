package nbasync

import (
	"strconv"
	"time"

	"github.com/phrazzld/paygate/internal/domain"
)

// QueueName is the queue all sync jobs share.
const QueueName = "nba-sync"

// Sync job names.
const (
	JobScoreboard        = "sync-scoreboard"
	JobFinalResults      = "sync-final-results"
	JobPlayerGameStats   = "sync-player-game-stats"
	JobPlayers           = "sync-players"
	JobPlayerSeasonTeams = "sync-player-season-teams"
	JobInjuryReport      = "sync-injury-report"
	JobRange             = "sync-range"
)

// Range modes. Any other value syncs both scoreboards and final results.
const (
	ModeScoreboard = "scoreboard"
	ModeFinal      = "final"
)

// Params is the payload of a sync job. Empty fields are omitted.
type Params struct {
	Date   string `json:"date,omitempty"`
	GameID string `json:"gameId,omitempty"`
	Season string `json:"season,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// ValidationError is a rejected trigger. Its message is safe to return to
// clients.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap lets errors.Is match domain.ErrValidation.
func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// Validate checks the params of a manual trigger for job name. maxDays
// bounds sync-range when positive.
func Validate(name string, p Params, maxDays int) error {
	switch name {
	case JobScoreboard, JobFinalResults:
		return validDate(p.Date)
	case JobPlayerGameStats:
		if p.Date == "" && p.GameID == "" {
			return invalid("date or gameId is required")
		}
		return validDate(p.Date)
	case JobPlayers, JobPlayerSeasonTeams:
		if p.Season == "" {
			return invalid("season is required, e.g. 2024-25")
		}
	case JobInjuryReport:
	case JobRange:
		if p.From == "" || p.To == "" {
			return invalid("from/to are required, e.g. 2026-02-01")
		}
		_, err := ExpandDates(p.From, p.To, maxDays)
		return err
	default:
		return invalid("unknown sync job " + name)
	}
	return nil
}

func validDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := domain.ParseDate(s); err != nil {
		return invalid("date must be YYYY-MM-DD")
	}
	return nil
}

// ExpandDates lists every UTC calendar day from from to to inclusive.
func ExpandDates(from, to string, maxDays int) ([]string, error) {
	start, err := domain.ParseDate(from)
	if err != nil {
		return nil, invalid("date must be YYYY-MM-DD")
	}
	end, err := domain.ParseDate(to)
	if err != nil {
		return nil, invalid("date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, invalid("to must be >= from")
	}

	days := int(end.Sub(start)/(24*time.Hour)) + 1
	if maxDays > 0 && days > maxDays {
		return nil, invalid("range too large, max days = " + strconv.Itoa(maxDays))
	}

	dates := make([]string, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(domain.DateLayout))
	}
	return dates, nil
}
