// Package nsq hands sync jobs to the external ingestion service over NSQ.
package nsq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonsq "github.com/nsqio/go-nsq"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/platform/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoTopic is returned when a publisher is built without a topic.
var ErrNoTopic = errors.New("nsq: ingest topic is required")

// IngestCommand is the message body read by the ingester.
type IngestCommand struct {
	Job          string            `json:"job"`
	JobID        string            `json:"jobId"`
	Params       json.RawMessage   `json:"params"`
	RequestedAt  string            `json:"requestedAt"`
	TraceHeaders map[string]string `json:"traceHeaders,omitempty"`
}

// producer is the subset of *gonsq.Producer used here.
type producer interface {
	Publish(topic string, body []byte) error
	Ping() error
	Stop()
}

// IngestPublisher publishes ingestion commands to one topic.
type IngestPublisher struct {
	producer producer
	topic    string
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestPublisher connects a producer to nsqd at addr.
func NewIngestPublisher(addr, topic string, logger *slog.Logger) (*IngestPublisher, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}

	conf := gonsq.NewConfig()
	prod, err := gonsq.NewProducer(addr, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	prod.SetLoggerLevel(gonsq.LogLevelWarning)

	return newIngestPublisher(prod, topic, logger), nil
}

func newIngestPublisher(p producer, topic string, logger *slog.Logger) *IngestPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestPublisher{
		producer: p,
		topic:    topic,
		logger:   logger.With(slog.String("component", "nsq_ingest")),
		now:      time.Now,
	}
}

// Topic returns the topic commands are published to.
func (p *IngestPublisher) Topic() string {
	return p.topic
}

// Ingest publishes one command and returns the topic it went to.
func (p *IngestPublisher) Ingest(ctx context.Context, job, jobID string, params json.RawMessage) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "nsq.publish",
		attribute.String("nsq.topic", p.topic),
		attribute.String("job.name", job),
	)
	defer span.End()

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	body, err := json.Marshal(IngestCommand{
		Job:          job,
		JobID:        jobID,
		Params:       params,
		RequestedAt:  p.now().UTC().Format(time.RFC3339),
		TraceHeaders: tracing.Inject(ctx),
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return "", fmt.Errorf("encode ingest command: %w", err)
	}

	if err := p.producer.Publish(p.topic, body); err != nil {
		tracing.SetSpanError(ctx, err)
		return "", fmt.Errorf("nsq publish: %w", err)
	}

	logger.FromContextOrDefault(ctx, p.logger).Debug("ingest command published",
		slog.String("job", job),
		slog.String("job_id", jobID),
		slog.String("topic", p.topic))
	return p.topic, nil
}

// Ping checks the nsqd connection.
func (p *IngestPublisher) Ping(context.Context) error {
	return p.producer.Ping()
}

// Close stops the producer.
func (p *IngestPublisher) Close() {
	p.producer.Stop()
}
