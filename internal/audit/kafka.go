package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultTopic is the Kafka topic audit events are produced to.
const DefaultTopic = "issuer.audit"

// KafkaPublisher produces audit events to Kafka. Production is asynchronous:
// a delivery failure is logged, never surfaced to the login or token path.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// KafkaPublisherOption configures a KafkaPublisher.
type KafkaPublisherOption func(*KafkaPublisher)

// WithTopic overrides the default audit topic.
func WithTopic(topic string) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.topic = topic
	}
}

// NewKafkaPublisher connects to the given brokers and ensures the audit topic
// exists.
func NewKafkaPublisher(ctx context.Context, brokers []string, logger *slog.Logger, opts ...KafkaPublisherOption) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	p := &KafkaPublisher{
		client: client,
		topic:  DefaultTopic,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.ensureTopic(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

func (p *KafkaPublisher) ensureTopic(ctx context.Context) error {
	adm := kadm.NewClient(p.client)

	topics, err := adm.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if topics.Has(p.topic) {
		return nil
	}

	if _, err := adm.CreateTopic(ctx, 1, 1, nil, p.topic); err != nil {
		return fmt.Errorf("create audit topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Subject),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("audit event delivery failed",
				"action", event.Action,
				"error", err,
			)
		}
	})
	return nil
}

// Close flushes pending records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return err
	}
	p.client.Close()
	return nil
}

var _ Publisher = (*KafkaPublisher)(nil)
