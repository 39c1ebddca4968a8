package capability

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/paygate/internal/domain"
)

// MatchupInput is the input of both matchup capabilities.
type MatchupInput struct {
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	Home         string `json:"home" validate:"required"`
	Away         string `json:"away" validate:"required"`
	MatchupLimit int    `json:"matchupLimit,omitempty" validate:"gte=0,lte=25"`
	RecentLimit  int    `json:"recentLimit,omitempty" validate:"gte=0,lte=25"`
}

// Query converts the input into a store query.
func (in MatchupInput) Query() domain.MatchupQuery {
	return domain.MatchupQuery{
		Date:         in.Date,
		Home:         in.Home,
		Away:         in.Away,
		MatchupLimit: in.MatchupLimit,
		RecentLimit:  in.RecentLimit,
	}.Normalize()
}

// InputError lists why an input was rejected.
type InputError struct {
	Details []string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %v", e.Details)
}

var validate = validator.New()

// DecodeMatchupInput parses and validates job data.
func DecodeMatchupInput(data json.RawMessage) (MatchupInput, error) {
	var in MatchupInput
	if len(data) > 0 {
		if err := json.Unmarshal(data, &in); err != nil {
			return in, &InputError{Details: []string{err.Error()}}
		}
	}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
			return in, &InputError{Details: details}
		}
		return in, &InputError{Details: []string{err.Error()}}
	}
	return in, nil
}
