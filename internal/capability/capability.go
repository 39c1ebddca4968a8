// Package capability defines the closed set of operations a task can invoke
// and the processor that runs them on the task queue.
package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// QueueName is the task queue carrying capability jobs.
const QueueName = "a2a"

// Name identifies a capability. Job names on QueueName are capability names.
type Name string

// Supported capabilities.
const (
	MatchupBrief Name = "nba.matchup_brief"
	MatchupFull  Name = "nba.matchup_full"
)

// ErrUnknownCapability is returned for names outside the closed set.
var ErrUnknownCapability = errors.New("invalid capability")

// All returns every supported capability.
func All() []Name {
	return []Name{MatchupBrief, MatchupFull}
}

// Parse validates a capability name.
func Parse(s string) (Name, error) {
	n := Name(strings.TrimSpace(s))
	for _, known := range All() {
		if n == known {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, s)
}

// Meta is attached to every capability job under the "_meta" key.
type Meta struct {
	Capability   Name    `json:"capability"`
	PayerAddress *string `json:"payerAddress"`
	CreatedAt    string  `json:"createdAt"`
}

const metaKey = "_meta"

// BuildPayload assembles job data from a create request body. The input is
// body.input when that is a JSON object, otherwise the body itself; a body
// that is not an object contributes nothing.
func BuildPayload(name Name, body []byte, payer string, now time.Time) (json.RawMessage, error) {
	input := map[string]json.RawMessage{}

	var outer map[string]json.RawMessage
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &outer) == nil && outer != nil {
		input = outer
		if raw, ok := outer["input"]; ok {
			var inner map[string]json.RawMessage
			if json.Unmarshal(raw, &inner) == nil && inner != nil {
				input = inner
			}
		}
	}

	meta := Meta{Capability: name, CreatedAt: now.UTC().Format(time.RFC3339Nano)}
	if payer != "" {
		meta.PayerAddress = &payer
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task metadata: %w", err)
	}
	input[metaKey] = rawMeta

	out, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}
	return out, nil
}

// MetaFromData extracts the metadata stored with a job. Missing or malformed
// metadata yields a zero Meta.
func MetaFromData(data json.RawMessage) Meta {
	var holder struct {
		Meta Meta `json:"_meta"`
	}
	_ = json.Unmarshal(data, &holder)
	return holder.Meta
}
