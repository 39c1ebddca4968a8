package nsq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProducer struct {
	PublishFn func(topic string, body []byte) error
	topics    []string
	bodies    [][]byte
	stopped   bool
}

func (m *mockProducer) Publish(topic string, body []byte) error {
	m.topics = append(m.topics, topic)
	m.bodies = append(m.bodies, body)
	if m.PublishFn != nil {
		return m.PublishFn(topic, body)
	}
	return nil
}

func (m *mockProducer) Ping() error { return nil }

func (m *mockProducer) Stop() { m.stopped = true }

func TestIngestPublisher_Ingest(t *testing.T) {
	prod := &mockProducer{}
	p := newIngestPublisher(prod, "nba.ingest", nil)
	p.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	topic, err := p.Ingest(context.Background(), "sync-scoreboard", "42", json.RawMessage(`{"date":"2025-01-02"}`))
	require.NoError(t, err)
	assert.Equal(t, "nba.ingest", topic)

	require.Len(t, prod.bodies, 1)
	assert.Equal(t, "nba.ingest", prod.topics[0])

	var cmd IngestCommand
	require.NoError(t, json.Unmarshal(prod.bodies[0], &cmd))
	assert.Equal(t, "sync-scoreboard", cmd.Job)
	assert.Equal(t, "42", cmd.JobID)
	assert.JSONEq(t, `{"date":"2025-01-02"}`, string(cmd.Params))
	assert.Equal(t, "2025-01-02T03:04:05Z", cmd.RequestedAt)
}

func TestIngestPublisher_EmptyParams(t *testing.T) {
	prod := &mockProducer{}
	p := newIngestPublisher(prod, "nba.ingest", nil)

	_, err := p.Ingest(context.Background(), "sync-injury-report", "7", nil)
	require.NoError(t, err)

	var cmd IngestCommand
	require.NoError(t, json.Unmarshal(prod.bodies[0], &cmd))
	assert.JSONEq(t, `{}`, string(cmd.Params))
}

func TestIngestPublisher_PublishError(t *testing.T) {
	prod := &mockProducer{PublishFn: func(string, []byte) error { return errors.New("not connected") }}
	p := newIngestPublisher(prod, "nba.ingest", nil)

	_, err := p.Ingest(context.Background(), "sync-players", "1", json.RawMessage(`{"season":"2024"}`))
	assert.ErrorContains(t, err, "nsq publish: not connected")
}

func TestIngestPublisher_Close(t *testing.T) {
	prod := &mockProducer{}
	p := newIngestPublisher(prod, "nba.ingest", nil)
	p.Close()
	assert.True(t, prod.stopped)
	assert.Equal(t, "nba.ingest", p.Topic())
}

func TestNewIngestPublisher_RequiresTopic(t *testing.T) {
	_, err := NewIngestPublisher("127.0.0.1:4150", "", nil)
	assert.ErrorIs(t, err, ErrNoTopic)
}
