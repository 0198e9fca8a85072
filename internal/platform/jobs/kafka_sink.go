package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventSink publishes domain events to a Kafka topic keyed by event subject.
type KafkaEventSink struct {
	writer  messageWriter
	marshal func(any) ([]byte, error)
}

// KafkaConfig describes the target cluster.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// NewKafkaEventSink builds a synchronous kafka-go writer. Messages sharing a subject land on
// the same partition.
func NewKafkaEventSink(cfg KafkaConfig) (*KafkaEventSink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka event sink: at least one broker is required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka event sink: topic is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: false,
		Logger:                 observability.NewPrintfAdapter(cfg.Logger),
		ErrorLogger:            observability.NewErrorPrintfAdapter(cfg.Logger),
	}
	return newKafkaEventSink(writer), nil
}

func newKafkaEventSink(writer messageWriter) *KafkaEventSink {
	return &KafkaEventSink{writer: writer, marshal: json.Marshal}
}

// PublishEvent writes the event and blocks until the brokers acknowledge it.
func (k *KafkaEventSink) PublishEvent(ctx context.Context, event services.DomainEvent) error {
	if k == nil || k.writer == nil {
		return errors.New("kafka event sink: not initialised")
	}
	data, err := k.marshal(event)
	if err != nil {
		return services.Permanent(fmt.Errorf("marshal %s event: %w", event.Type, err))
	}

	attrs := eventAttributes(event)
	headers := make([]kafka.Header, 0, len(attrs))
	for _, key := range []string{"eventId", "eventType", "subject", "actorId"} {
		if value, ok := attrs[key]; ok {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
		}
	}

	msg := kafka.Message{
		Key:     []byte(event.Subject),
		Value:   data,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaEventSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
