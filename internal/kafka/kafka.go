// Package kafka publishes ServiceNow instance status events to Kafka using
// the franz-go client.
//
// # Delivery
//
// The [Producer] is synchronous: ProduceSync blocks until every in-sync
// replica acknowledged the record (acks=all). The prober persists a new
// status only after Publish returns, so a crash in between re-publishes the
// transition on restart rather than losing it.
//
// # Encodings
//
//	┌──────────┬──────────────────────────────────────────────────────────┐
//	│ Encoding │ Value bytes                                              │
//	├──────────┼──────────────────────────────────────────────────────────┤
//	│ json     │ JSON object of [StatusEvent]                             │
//	│ avro     │ 0x00 | schema ID (4 bytes, big endian) | Avro binary     │
//	└──────────┴──────────────────────────────────────────────────────────┘
//
// The Avro form is the Confluent wire format; the schema ID comes from a
// Confluent-compatible schema registry (see [HTTPRegistryClient]).
//
// # Thread Safety
//
// Producer, Publisher and AvroSerializer are safe for concurrent use.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/RaikaSurendra/servicenow-instance/internal/config"
)

// Producer wraps a franz-go client for producing messages to Kafka.
//
// The producer is configured with acks=all so that a status event is
// replicated before it is acknowledged.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer creates a Kafka producer from the kafka configuration.
// The producer is ready to use immediately after construction.
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Kafka producer client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger.With("component", "kafka-producer"),
	}, nil
}

// clientOptions maps the kafka configuration to franz-go options.
func clientOptions(cfg config.KafkaConfig) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()), // -1: wait for all in-sync replicas
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
		kgo.RetryTimeout(30 * time.Second),
	}

	if cfg.TLS.Enabled {
		tc, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("kafka tls: %w", err)
		}
		opts = append(opts, kgo.DialTLSConfig(tc))
	}

	if cfg.SASL.Mechanism != "" {
		m, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("kafka sasl: %w", err)
		}
		opts = append(opts, kgo.SASL(m))
	}

	return opts, nil
}

func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate %s", cfg.CACert)
		}
		tc.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}

func buildSASLMechanism(cfg config.SASLConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: cfg.Username, Pass: cfg.Password}.AsMechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}

// ProduceSync sends a single record to the given topic and waits for
// broker acknowledgement.
//
// The method blocks until:
//   - The broker acknowledges the message (success).
//   - The context is cancelled.
//   - An unrecoverable error occurs.
func (p *Producer) ProduceSync(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{
			Key:   k,
			Value: []byte(v),
		})
	}

	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("producing to %s: %w", topic, err)
	}

	p.logger.Debug("message produced",
		"topic", topic,
		"partition", results[0].Record.Partition,
		"offset", results[0].Record.Offset,
	)
	return nil
}

// Ping checks that at least one broker is reachable.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("pinging kafka brokers: %w", err)
	}
	return nil
}

// Close flushes any pending messages and closes the Kafka connection.
func (p *Producer) Close() {
	p.client.Close()
}
