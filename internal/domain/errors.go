package domain

import "errors"

var (
	// ErrValidation wraps every entity or input validation failure. The
	// wrapping message names the offending field.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when a value such as a game date does not
	// parse.
	ErrInvalidFormat = errors.New("invalid format")
)
