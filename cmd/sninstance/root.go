// sninstance talks to ServiceNow instances: liveness checks, record and
// schema lookups, and a long-running status monitor.
//
// # Usage
//
//	sninstance up       [--host H --username U --password P | --config C]
//	sninstance record   TABLE SYS_ID
//	sninstance query    TABLE [--query Q] [--limit N] [--fields a,b] [--since D] [--order-by F]
//	sninstance schema   TABLE [--avro] [--register SUBJECT [--registry-url URL]]
//	sninstance metadata TABLE
//	sninstance watch    --config C
//	sninstance version
//
// Without --config a single instance is built from --host and the
// credential flags; SN_USERNAME and SN_PASSWORD are read when the flags are
// empty. With --config, --host selects one of the configured instances and
// the credential flags override its credentials.
//
// Variables from --env-file (default .env, skipped when absent) are loaded
// first, so SN_USERNAME, SN_PASSWORD and ${VAR} references in the config
// can live there.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var globalFlags struct {
	configPath string
	host       string
	username   string
	password   string
	logLevel   string
	envFile    string
}

var rootCmd = &cobra.Command{
	Use:   "sninstance",
	Short: "Query and monitor ServiceNow instances",
	Long: "sninstance checks whether ServiceNow instances are up, reads records,\n" +
		"schemas and UI metadata, and watches instances for status changes.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadEnvFile(globalFlags.envFile, cmd.Flags().Changed("env-file"))
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&globalFlags.configPath, "config", "c", "", "Path to configuration YAML file")
	f.StringVar(&globalFlags.host, "host", "", "Instance host name, e.g. dev12345 for dev12345.service-now.com")
	f.StringVarP(&globalFlags.username, "username", "u", "", "Basic auth user name (default $SN_USERNAME)")
	f.StringVarP(&globalFlags.password, "password", "p", "", "Basic auth password (default $SN_PASSWORD)")
	f.StringVar(&globalFlags.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	f.StringVar(&globalFlags.envFile, "env-file", ".env", "Dotenv file loaded before the config; variables already set win")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errInstanceDown) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sninstance %s (commit: %s, built: %s)\n", version, commit, buildDate)
	},
}
