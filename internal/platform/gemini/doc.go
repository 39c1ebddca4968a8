// Package gemini implements the matchup analyzer on Google's Gemini API.
//
// The analyzer renders the matchup context into a prompt, asks the model
// for a JSON answer and validates it into a domain.Analysis. Transient API
// failures are retried with exponential backoff and jitter; malformed or
// blocked answers are returned immediately.
package gemini
