package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AnalysisLogEntry records one call to the analysis endpoint.
type AnalysisLogEntry struct {
	ID            uuid.UUID       `json:"id"`
	PayerAddress  *string         `json:"payerAddress"`
	SessionID     *string         `json:"sessionId"`
	RequestParams json.RawMessage `json:"requestParams"`
	Response      json.RawMessage `json:"response"`
	Error         *string         `json:"error"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NewAnalysisLogEntry creates an entry for a request. Empty payer and
// session values are stored as null.
func NewAnalysisLogEntry(payer, sessionID string, params json.RawMessage) *AnalysisLogEntry {
	now := time.Now().UTC()
	return &AnalysisLogEntry{
		ID:            uuid.New(),
		PayerAddress:  optional(payer),
		SessionID:     optional(sessionID),
		RequestParams: params,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Succeed records the response body.
func (e *AnalysisLogEntry) Succeed(response json.RawMessage) {
	e.Response = response
	e.Error = nil
	e.UpdatedAt = time.Now().UTC()
}

// Fail records the failure message.
func (e *AnalysisLogEntry) Fail(message string) {
	e.Error = &message
	e.UpdatedAt = time.Now().UTC()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
