package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Queue event names.
const (
	EventWaiting   = "waiting"
	EventDelayed   = "delayed"
	EventActive    = "active"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventRemoved   = "removed"
)

// Event is one message of a queue's event bus.
type Event struct {
	Name    string
	JobID   string
	Payload map[string]any
}

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (q *Queue) publish(ctx context.Context, name string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("failed to encode queue event", "queue", q.name, "event", name, "error", err)
		return
	}
	msg, err := json.Marshal(envelope{Event: name, Payload: raw})
	if err != nil {
		slog.Default().Error("failed to encode queue event", "queue", q.name, "event", name, "error", err)
		return
	}
	if err := q.client.Publish(ctx, q.eventsKey(), msg).Err(); err != nil {
		slog.Default().Warn("failed to publish queue event", "queue", q.name, "event", name, "error", err)
	}
}

// Subscription receives every event of one queue over a dedicated
// connection. Close must be called to release it.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
	err    error
}

// Subscribe opens a subscription to the queue's events. It returns once
// Redis has confirmed the subscription.
func (q *Queue) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := q.client.Subscribe(ctx, q.eventsKey())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to queue events: %w", err)
	}

	s := &Subscription{
		pubsub: ps,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go s.run(ps.Channel())
	return s, nil
}

func (s *Subscription) run(ch <-chan *redis.Message) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				slog.Default().Warn("dropping malformed queue event", "error", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// Events returns the event channel. It is closed after Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close releases the subscription. Calling it more than once is safe.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
	})
	return s.err
}

func decodeEvent(raw string) (Event, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Event{}, fmt.Errorf("invalid event envelope: %w", err)
	}
	ev := Event{Name: env.Event, Payload: map[string]any{}}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &ev.Payload); err != nil {
			return Event{}, fmt.Errorf("invalid %s payload: %w", env.Event, err)
		}
	}
	ev.JobID, _ = ev.Payload["jobId"].(string)
	return ev, nil
}
