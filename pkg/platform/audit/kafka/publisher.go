// Package kafka publishes governance audit events to a Kafka topic.
//
// Kafka is the durable trail for registry governance: ordered per version by
// keying records on the version ID, so consumers replay transitions for one
// version in emission order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "covenant/pkg/platform/audit"
)

const defaultTopic = "covenant.registry.audit"

// Publisher emits audit events to Kafka synchronously. Governance operations
// are rare and fail-closed: if the trail cannot be written, the transition
// should not be reported as succeeded.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithTopic overrides the default audit topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) { p.topic = topic }
}

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// New connects to the brokers and ensures the audit topic exists.
func New(ctx context.Context, brokers []string, opts ...Option) (*Publisher, error) {
	p := &Publisher{topic: defaultTopic}
	for _, opt := range opts {
		opt(p)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	p.client = client

	if err := p.ensureTopic(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureTopic(ctx context.Context) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopic(ctx, 3, 1, nil, p.topic)
	if err != nil {
		return fmt.Errorf("ensure audit topic %q: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("ensure audit topic %q: %w", p.topic, resp.Err)
	}
	return nil
}

// payload is the JSON structure written to the topic.
type payload struct {
	Timestamp   string `json:"timestamp"`
	Action      string `json:"action"`
	BankID      string `json:"bank_id,omitempty"`
	VersionID   string `json:"version_id,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Actor       string `json:"actor,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Emit synchronously produces the event. The caller blocks until the broker
// acknowledges the write or the context expires.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	body, err := json.Marshal(payload{
		Timestamp:   event.Timestamp.Format(time.RFC3339Nano),
		Action:      event.Action,
		BankID:      event.BankID,
		VersionID:   event.VersionID,
		ContentHash: event.ContentHash,
		Actor:       event.Actor,
		Reason:      event.Reason,
		RequestID:   event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.VersionID),
		Value: body,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit publish failed",
				"action", event.Action,
				"version_id", event.VersionID,
				"error", err,
			)
		}
		return fmt.Errorf("audit publish: %w", err)
	}
	return nil
}

// Close flushes and releases the Kafka client.
func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}
