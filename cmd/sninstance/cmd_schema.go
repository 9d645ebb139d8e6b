package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RaikaSurendra/servicenow-instance/internal/kafka"
	"github.com/RaikaSurendra/servicenow-instance/internal/servicenow"
)

var schemaFlags struct {
	avro        bool
	register    string
	registryURL string
}

var schemaCmd = &cobra.Command{
	Use:   "schema TABLE",
	Short: "Print the table schema",
	Long: "Prints the result of the table schema endpoint. With --avro the\n" +
		"schema is converted to an Avro record of optional strings; with\n" +
		"--register SUBJECT that Avro schema is also registered with the\n" +
		"schema registry.",
	Args: cobra.ExactArgs(1),
	RunE: runSchema,
}

func init() {
	f := schemaCmd.Flags()
	f.BoolVar(&schemaFlags.avro, "avro", false, "Print the derived Avro schema")
	f.StringVar(&schemaFlags.register, "register", "", "Register the Avro schema under this subject (implies --avro)")
	f.StringVar(&schemaFlags.registryURL, "registry-url", "", "Schema registry URL (default kafka.schema_registry_url)")
}

func runSchema(cmd *cobra.Command, args []string) error {
	inst, cfg, logger, err := selectedInstance()
	if err != nil {
		return err
	}
	table := args[0]

	result, err := inst.GetSchema(cmd.Context(), table)
	if err != nil {
		return err
	}
	if !schemaFlags.avro && schemaFlags.register == "" {
		return printJSON(cmd.OutOrStdout(), result)
	}

	schema, err := kafka.GenerateAvroSchema(table, servicenow.FieldNames(result))
	if err != nil {
		return fmt.Errorf("deriving Avro schema for %s: %w", table, err)
	}

	if schemaFlags.register != "" {
		registryURL := schemaFlags.registryURL
		if registryURL == "" {
			registryURL = cfg.Kafka.SchemaRegistryURL
		}
		if registryURL == "" {
			return errors.New("--registry-url or kafka.schema_registry_url is required with --register")
		}
		id, err := kafka.NewHTTPRegistryClient(registryURL).GetSchemaID(cmd.Context(), schemaFlags.register, schema)
		if err != nil {
			return fmt.Errorf("registering schema under %s: %w", schemaFlags.register, err)
		}
		logger.Info("schema registered", "subject", schemaFlags.register, "id", id)
	}

	// Re-indent the canonical schema JSON for display.
	return printJSON(cmd.OutOrStdout(), json.RawMessage(schema.String()))
}

var metadataCmd = &cobra.Command{
	Use:   "metadata TABLE",
	Short: "Print the table's UI metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, _, _, err := selectedInstance()
		if err != nil {
			return err
		}
		result, err := inst.GetMetadata(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}
