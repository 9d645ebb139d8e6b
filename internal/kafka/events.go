package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hamba/avro/v2"

	"github.com/RaikaSurendra/servicenow-instance/internal/observability"
)

// StatusEvent announces that a monitored instance went up or down.
type StatusEvent struct {
	// EventID is unique per announced transition; consumers may use it to
	// drop redelivered events.
	EventID string `avro:"event_id" json:"event_id"`

	Instance string `avro:"instance" json:"instance"`
	BaseURL  string `avro:"base_url" json:"base_url"`
	Up       bool   `avro:"up" json:"up"`

	// PreviousUp is nil for the first probe of an instance.
	PreviousUp *bool `avro:"previous_up" json:"previous_up"`

	// CheckedAt and ChangedAt are Unix epoch seconds.
	CheckedAt int64 `avro:"checked_at" json:"checked_at"`
	ChangedAt int64 `avro:"changed_at" json:"changed_at"`

	Error string `avro:"error" json:"error,omitempty"`
}

const statusEventSchemaJSON = `{
  "type": "record",
  "name": "StatusEvent",
  "namespace": "com.servicenow.instance",
  "fields": [
    {"name": "event_id", "type": "string"},
    {"name": "instance", "type": "string"},
    {"name": "base_url", "type": "string"},
    {"name": "up", "type": "boolean"},
    {"name": "previous_up", "type": ["null", "boolean"], "default": null},
    {"name": "checked_at", "type": "long"},
    {"name": "changed_at", "type": "long"},
    {"name": "error", "type": "string", "default": ""}
  ]
}`

// StatusEventSchema is the Avro schema of [StatusEvent].
var StatusEventSchema = avro.MustParse(statusEventSchemaJSON)

// Encoder turns a StatusEvent into a Kafka record value.
type Encoder interface {
	Encode(ctx context.Context, ev StatusEvent) ([]byte, error)
	ContentType() string
}

// JSONEncoder encodes events as JSON objects.
type JSONEncoder struct{}

// Encode implements Encoder.
func (JSONEncoder) Encode(_ context.Context, ev StatusEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding status event: %w", err)
	}
	return data, nil
}

// ContentType implements Encoder.
func (JSONEncoder) ContentType() string { return "application/json" }

// AvroEncoder encodes events in the Confluent wire format under a
// registry subject.
type AvroEncoder struct {
	serializer *AvroSerializer
	subject    string
}

// NewAvroEncoder creates an AvroEncoder. The subject is usually
// "{topic}-value".
func NewAvroEncoder(serializer *AvroSerializer, subject string) *AvroEncoder {
	return &AvroEncoder{serializer: serializer, subject: subject}
}

// Encode implements Encoder.
func (e *AvroEncoder) Encode(ctx context.Context, ev StatusEvent) ([]byte, error) {
	return e.serializer.Serialize(ctx, e.subject, StatusEventSchema, ev)
}

// ContentType implements Encoder.
func (e *AvroEncoder) ContentType() string { return "application/vnd.confluent.avro" }

// RecordProducer produces one record synchronously. *Producer satisfies it.
type RecordProducer interface {
	ProduceSync(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Publisher sends status events to a topic, keyed by instance host name so
// that events of one instance stay ordered within a partition.
type Publisher struct {
	producer RecordProducer
	topic    string
	encoder  Encoder
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. A nil encoder means JSON.
func NewPublisher(producer RecordProducer, topic string, encoder Encoder, logger *slog.Logger) *Publisher {
	if encoder == nil {
		encoder = JSONEncoder{}
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		encoder:  encoder,
		logger:   logger.With("component", "status-publisher", "topic", topic),
	}
}

// Publish encodes and produces the event. It returns only after the broker
// acknowledged the record.
func (p *Publisher) Publish(ctx context.Context, ev StatusEvent) error {
	value, err := p.encoder.Encode(ctx, ev)
	if err != nil {
		observability.Metrics.StatusEventsTotal.WithLabelValues(ev.Instance, "encode_error").Inc()
		return err
	}

	headers := map[string]string{
		"content-type": p.encoder.ContentType(),
		"instance":     ev.Instance,
	}
	if ev.EventID != "" {
		headers["event-id"] = ev.EventID
	}
	if err := p.producer.ProduceSync(ctx, p.topic, []byte(ev.Instance), value, headers); err != nil {
		observability.Metrics.StatusEventsTotal.WithLabelValues(ev.Instance, "produce_error").Inc()
		return err
	}

	observability.Metrics.StatusEventsTotal.WithLabelValues(ev.Instance, "published").Inc()
	p.logger.Info("status event published", "instance", ev.Instance, "up", ev.Up)
	return nil
}
