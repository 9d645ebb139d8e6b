package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/RaikaSurendra/servicenow-instance/internal/config"
	"github.com/RaikaSurendra/servicenow-instance/internal/servicenow"
)

// cliOptions are the global flags after parsing.
type cliOptions struct {
	configPath string
	host       string
	username   string
	password   string
	logLevel   string
}

func currentOptions() cliOptions {
	return cliOptions{
		configPath: globalFlags.configPath,
		host:       globalFlags.host,
		username:   globalFlags.username,
		password:   globalFlags.password,
		logLevel:   globalFlags.logLevel,
	}
}

// loadEnvFile loads dotenv variables from path without overriding the
// environment. A missing file is only an error when it was asked for
// explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// resolveConfig merges the config file (if any) with the global flags and
// the SN_USERNAME / SN_PASSWORD environment variables, then validates.
func resolveConfig(o cliOptions, getenv func(string) string) (*config.Config, error) {
	var cfg *config.Config
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading configuration from %s: %w", o.configPath, err)
		}
		cfg = loaded
	} else {
		if o.host == "" {
			return nil, errors.New("either --config or --host is required")
		}
		cfg = &config.Config{
			Instances: []config.InstanceConfig{{HostName: o.host}},
		}
	}

	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	idx, err := instanceIndex(cfg, o.host)
	if err != nil {
		return nil, err
	}
	inst := &cfg.Instances[idx]

	username, password := o.username, o.password
	if inst.Credentials == nil {
		if username == "" {
			username = getenv("SN_USERNAME")
		}
		if password == "" {
			password = getenv("SN_PASSWORD")
		}
	}
	if username != "" || password != "" {
		creds := config.CredentialsConfig{}
		if inst.Credentials != nil {
			creds = *inst.Credentials
		}
		if username != "" {
			creds.Username = username
		}
		if password != "" {
			creds.Password = password
		}
		inst.Credentials = &creds
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// instanceIndex finds the instance selected by --host. An empty host
// selects the first configured instance.
func instanceIndex(cfg *config.Config, host string) (int, error) {
	if len(cfg.Instances) == 0 {
		return 0, errors.New("no instances configured")
	}
	if host == "" {
		return 0, nil
	}
	for i, inst := range cfg.Instances {
		if inst.HostName == host {
			return i, nil
		}
	}
	return 0, fmt.Errorf("instance %q is not in the configuration", host)
}

// newInstance builds the client for one configured instance.
func newInstance(ic config.InstanceConfig, logger *slog.Logger) *servicenow.Instance {
	var creds *servicenow.Credentials
	if ic.Credentials != nil {
		creds = &servicenow.Credentials{
			Username: ic.Credentials.Username,
			Password: ic.Credentials.Password,
		}
	}

	opts := []servicenow.Option{servicenow.WithTimeout(ic.Timeout())}
	if ic.RateLimitRPS > 0 {
		opts = append(opts, servicenow.WithRateLimiter(ic.RateLimitRPS))
	}
	return servicenow.NewInstance(ic.HostName, creds, logger, opts...)
}

// selectedInstance resolves the configuration and returns the client for
// the instance chosen by --host, plus a logger writing to stderr.
func selectedInstance() (*servicenow.Instance, *config.Config, *slog.Logger, error) {
	o := currentOptions()
	cfg, err := resolveConfig(o, os.Getenv)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg.LogLevel, os.Stderr)

	idx, err := instanceIndex(cfg, o.host)
	if err != nil {
		return nil, nil, nil, err
	}
	return newInstance(cfg.Instances[idx], logger), cfg, logger, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
