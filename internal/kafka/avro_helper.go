package kafka

import (
	"fmt"
	"strings"

	"github.com/hamba/avro/v2"
)

// GenerateAvroSchema creates an Avro record schema for a ServiceNow table
// from its field names. Every field is an optional string, which is how the
// Table API returns values. Names that are not valid Avro names (for
// example dot-walked "caller_id.name") are rewritten with underscores.
func GenerateAvroSchema(tableName string, fields []string) (avro.Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("cannot generate schema with no fields")
	}

	seen := make(map[string]string, len(fields))
	avroFields := make([]*avro.Field, 0, len(fields))
	for _, f := range fields {
		name := avroName(f)
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("fields %q and %q both map to Avro name %q", prev, f, name)
		}
		seen[name] = f

		// ["null", "string"] makes the field optional.
		schema, err := avro.NewUnionSchema([]avro.Schema{
			&avro.NullSchema{},
			avro.NewPrimitiveSchema(avro.String, nil),
		})
		if err != nil {
			return nil, fmt.Errorf("creating union for %s: %w", f, err)
		}

		field, err := avro.NewField(name, schema, avro.WithDefault(nil))
		if err != nil {
			return nil, fmt.Errorf("creating field %s: %w", f, err)
		}
		avroFields = append(avroFields, field)
	}

	recordSchema, err := avro.NewRecordSchema(avroName(tableName), "com.servicenow.instance", avroFields)
	if err != nil {
		return nil, fmt.Errorf("creating record schema: %w", err)
	}

	return recordSchema, nil
}

// avroName maps s onto [A-Za-z_][A-Za-z0-9_]*.
func avroName(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
