package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format accepted on every endpoint.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidFormat)
	}
	return t, nil
}

// Team is an NBA franchise.
type Team struct {
	ID     string `json:"id"`
	Abbrev string `json:"abbrev"`
	Name   string `json:"name"`
}

// Game is a scheduled or played game.
type Game struct {
	ID          string     `json:"id"`
	GameDate    time.Time  `json:"gameDate"`
	DateTimeUTC *time.Time `json:"dateTimeUtc"`
	Status      string     `json:"status"`
	HomeTeamID  string     `json:"homeTeamId"`
	AwayTeamID  string     `json:"awayTeamId"`
	HomeAbbrev  string     `json:"homeAbbrev"`
	AwayAbbrev  string     `json:"awayAbbrev"`
	HomeScore   *int       `json:"homeScore"`
	AwayScore   *int       `json:"awayScore"`
}

// HasScore reports whether both scores are known.
func (g Game) HasScore() bool {
	return g.HomeScore != nil && g.AwayScore != nil
}

// InjuryEntry is one line of an injury report.
type InjuryEntry struct {
	ReportDate  time.Time `json:"reportDate"`
	TeamAbbrev  string    `json:"team"`
	PlayerName  string    `json:"player"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
}

// MatchupQuery identifies a game by date and team abbreviations or names.
type MatchupQuery struct {
	Date         string
	Home         string
	Away         string
	MatchupLimit int
	RecentLimit  int
}

// Default limits for matchup context reads.
const (
	DefaultMatchupLimit = 5
	DefaultRecentLimit  = 5
	MaxContextLimit     = 25
)

// Normalize uppercases the team identifiers and clamps the limits.
func (q MatchupQuery) Normalize() MatchupQuery {
	q.Home = strings.ToUpper(strings.TrimSpace(q.Home))
	q.Away = strings.ToUpper(strings.TrimSpace(q.Away))
	q.MatchupLimit = clampLimit(q.MatchupLimit, DefaultMatchupLimit)
	q.RecentLimit = clampLimit(q.RecentLimit, DefaultRecentLimit)
	return q
}

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > MaxContextLimit {
		return MaxContextLimit
	}
	return n
}

// MatchupContext is everything known about a game before analysis.
type MatchupContext struct {
	Game       Game          `json:"game"`
	HomeTeam   Team          `json:"homeTeam"`
	AwayTeam   Team          `json:"awayTeam"`
	RecentHome []Game        `json:"recentHome"`
	RecentAway []Game        `json:"recentAway"`
	HeadToHead []Game        `json:"headToHead"`
	Injuries   []InjuryEntry `json:"injuries"`
}

// Analysis is a model's read on a matchup.
type Analysis struct {
	HomeWinProbability float64  `json:"homeWinProbability"`
	AwayWinProbability float64  `json:"awayWinProbability"`
	Summary            string   `json:"summary"`
	KeyFactors         []string `json:"keyFactors"`
	Model              string   `json:"model"`
}

// Validate checks that the probabilities are in range and sum to about one.
func (a Analysis) Validate() error {
	if a.HomeWinProbability < 0 || a.HomeWinProbability > 1 ||
		a.AwayWinProbability < 0 || a.AwayWinProbability > 1 {
		return fmt.Errorf("%w: probabilities must be between 0 and 1", ErrValidation)
	}
	sum := a.HomeWinProbability + a.AwayWinProbability
	if sum < 0.98 || sum > 1.02 {
		return fmt.Errorf("%w: probabilities must sum to 1, got %.3f", ErrValidation, sum)
	}
	if strings.TrimSpace(a.Summary) == "" {
		return fmt.Errorf("%w: summary is empty", ErrValidation)
	}
	return nil
}
