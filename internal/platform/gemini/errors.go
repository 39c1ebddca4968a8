package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the analyzer is constructed without
	// an API key or model.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the model's answer cannot be
	// turned into an analysis.
	ErrInvalidResponse = errors.New("invalid response from gemini")

	// ErrContentBlocked is returned when the answer was withheld by safety
	// filters.
	ErrContentBlocked = errors.New("content blocked by gemini safety filters")

	// ErrTransientFailure is returned when retries were exhausted.
	ErrTransientFailure = errors.New("gemini call failed")
)
