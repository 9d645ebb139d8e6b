package kafka

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
)

// SchemaRegistryClient is a client for a Confluent-compatible Schema Registry.
type SchemaRegistryClient interface {
	// GetSchemaID registers the schema under subject if needed and returns its ID.
	GetSchemaID(ctx context.Context, subject string, schema avro.Schema) (int, error)
}

// AvroSerializer converts values to Avro bytes with the Confluent magic
// byte prefix. Schema IDs are cached per subject and schema fingerprint, so
// the registry is asked once per schema.
type AvroSerializer struct {
	registry SchemaRegistryClient

	mu  sync.Mutex
	ids map[string]int
}

// NewAvroSerializer creates an AvroSerializer.
func NewAvroSerializer(registry SchemaRegistryClient) *AvroSerializer {
	return &AvroSerializer{
		registry: registry,
		ids:      make(map[string]int),
	}
}

// Serialize converts v to the Confluent wire format:
//
//	[Magic Byte (0)] [Schema ID (4 bytes)] [Avro Data]
func (s *AvroSerializer) Serialize(ctx context.Context, subject string, schema avro.Schema, v any) ([]byte, error) {
	data, err := avro.Marshal(schema, v)
	if err != nil {
		return nil, fmt.Errorf("marshaling avro: %w", err)
	}

	schemaID, err := s.schemaID(ctx, subject, schema)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 5+len(data))
	result[0] = 0 // Magic byte
	binary.BigEndian.PutUint32(result[1:5], uint32(schemaID))
	copy(result[5:], data)

	return result, nil
}

func (s *AvroSerializer) schemaID(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	key := fmt.Sprintf("%s/%x", subject, schema.Fingerprint())

	s.mu.Lock()
	id, ok := s.ids[key]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := s.registry.GetSchemaID(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("getting schema ID for subject %s: %w", subject, err)
	}

	s.mu.Lock()
	s.ids[key] = id
	s.mu.Unlock()
	return id, nil
}

// Deserialize reverses Serialize into v and returns the embedded schema ID.
func Deserialize(schema avro.Schema, data []byte, v any) (int, error) {
	if len(data) < 5 || data[0] != 0 {
		return 0, fmt.Errorf("not in Confluent wire format (%d bytes)", len(data))
	}
	id := int(binary.BigEndian.Uint32(data[1:5]))
	if err := avro.Unmarshal(schema, data[5:], v); err != nil {
		return id, fmt.Errorf("unmarshaling avro: %w", err)
	}
	return id, nil
}
