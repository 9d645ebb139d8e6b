// Package config provides YAML-based configuration loading, validation, and
// defaults for the ServiceNow instance tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Instances     []InstanceConfig    `yaml:"instances"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogLevel      string              `yaml:"log_level"`
}

// InstanceConfig identifies one ServiceNow instance.
type InstanceConfig struct {
	HostName       string             `yaml:"host_name"`
	Credentials    *CredentialsConfig `yaml:"credentials"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	RateLimitRPS   float64            `yaml:"rate_limit_rps"`
}

// Timeout returns the per-request timeout.
func (i InstanceConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// CredentialsConfig holds HTTP Basic Auth credentials. A nil
// *CredentialsConfig means the instance is used unauthenticated.
type CredentialsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MonitorConfig controls the liveness probers of the watch command.
type MonitorConfig struct {
	// Interval between probes while the instance is up.
	Interval Duration `yaml:"interval"`
	// DownInterval between probes while the instance is down.
	DownInterval Duration `yaml:"down_interval"`
	// StateBackend is "file" (JSON, flushed periodically) or "bolt".
	StateBackend  string   `yaml:"state_backend"`
	StateFile     string   `yaml:"state_file"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// KafkaConfig controls publishing of status change events.
type KafkaConfig struct {
	Enabled           bool       `yaml:"enabled"`
	Brokers           []string   `yaml:"brokers"`
	Topic             string     `yaml:"topic"`
	Encoding          string     `yaml:"encoding"` // "json" or "avro"
	SchemaRegistryURL string     `yaml:"schema_registry_url"`
	TLS               TLSConfig  `yaml:"tls"`
	SASL              SASLConfig `yaml:"sasl"`
}

// TLSConfig enables TLS for Kafka connections.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CACert   string `yaml:"ca_cert"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SASLConfig enables SASL for Kafka connections.
type SASLConfig struct {
	Mechanism string `yaml:"mechanism"` // "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// ObservabilityConfig controls the metrics/health HTTP server.
type ObservabilityConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads a YAML config file, expands environment variables, applies
// defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} and $VAR references in the YAML.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults sets default values for unset fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	for i := range cfg.Instances {
		inst := &cfg.Instances[i]
		inst.HostName = strings.TrimSpace(inst.HostName)
		if inst.TimeoutSeconds == 0 {
			inst.TimeoutSeconds = 30
		}
	}

	mon := &cfg.Monitor
	if mon.Interval.Duration == 0 {
		mon.Interval.Duration = time.Minute
	}
	if mon.DownInterval.Duration == 0 {
		mon.DownInterval.Duration = 15 * time.Second
	}
	if mon.StateBackend == "" {
		mon.StateBackend = "file"
	}
	if mon.StateFile == "" {
		mon.StateFile = "instance-status.json"
		if mon.StateBackend == "bolt" {
			mon.StateFile = "instance-status.db"
		}
	}
	if mon.FlushInterval.Duration == 0 {
		mon.FlushInterval.Duration = 5 * time.Second
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "servicenow.instance.status"
	}
	if cfg.Kafka.Encoding == "" {
		cfg.Kafka.Encoding = "json"
	}

	if cfg.Observability.Addr == "" {
		cfg.Observability.Addr = ":8080"
	}
}

// hostNamePattern matches the instance label of {host}.service-now.com.
var hostNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Validate checks that all required fields are present and valid.
func (cfg *Config) Validate() error {
	var errs []error

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", cfg.LogLevel))
	}

	// Instances
	if len(cfg.Instances) == 0 {
		errs = append(errs, errors.New("instances must contain at least one instance"))
	}
	seen := make(map[string]bool)
	for i, inst := range cfg.Instances {
		switch {
		case inst.HostName == "":
			errs = append(errs, fmt.Errorf("instances[%d].host_name is required", i))
		case !hostNamePattern.MatchString(inst.HostName):
			errs = append(errs, fmt.Errorf("instances[%d].host_name %q must be the instance name only, e.g. dev12345", i, inst.HostName))
		case seen[inst.HostName]:
			errs = append(errs, fmt.Errorf("instances[%d].host_name %q is listed twice", i, inst.HostName))
		}
		seen[inst.HostName] = true

		if c := inst.Credentials; c != nil {
			if c.Username == "" {
				errs = append(errs, fmt.Errorf("instances[%d].credentials.username is required when credentials are set", i))
			}
			if c.Password == "" {
				errs = append(errs, fmt.Errorf("instances[%d].credentials.password is required when credentials are set", i))
			}
		}
		if inst.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("instances[%d].timeout_seconds must not be negative", i))
		}
		if inst.RateLimitRPS < 0 {
			errs = append(errs, fmt.Errorf("instances[%d].rate_limit_rps must not be negative", i))
		}
	}

	// Monitor
	if cfg.Monitor.Interval.Duration < time.Second {
		errs = append(errs, errors.New("monitor.interval must be at least 1s"))
	}
	if cfg.Monitor.DownInterval.Duration < time.Second {
		errs = append(errs, errors.New("monitor.down_interval must be at least 1s"))
	}
	switch cfg.Monitor.StateBackend {
	case "file", "bolt":
	default:
		errs = append(errs, fmt.Errorf("monitor.state_backend must be 'file' or 'bolt', got %q", cfg.Monitor.StateBackend))
	}

	// Kafka
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers must contain at least one broker when kafka is enabled"))
		}
		switch cfg.Kafka.Encoding {
		case "json":
		case "avro":
			if cfg.Kafka.SchemaRegistryURL == "" {
				errs = append(errs, errors.New("kafka.schema_registry_url is required when kafka.encoding is avro"))
			}
		default:
			errs = append(errs, fmt.Errorf("kafka.encoding must be 'json' or 'avro', got %q", cfg.Kafka.Encoding))
		}
		errs = append(errs, validateKafkaSecurity(cfg.Kafka)...)
	}

	return errors.Join(errs...)
}

func validateKafkaSecurity(k KafkaConfig) []error {
	var errs []error
	if k.TLS.Enabled {
		if k.TLS.CertFile == "" && k.TLS.KeyFile != "" {
			errs = append(errs, errors.New("kafka.tls.cert_file is required when key_file is set"))
		}
		if k.TLS.KeyFile == "" && k.TLS.CertFile != "" {
			errs = append(errs, errors.New("kafka.tls.key_file is required when cert_file is set"))
		}
		for _, entry := range []struct {
			name  string
			value string
		}{
			{name: "kafka.tls.ca_cert", value: k.TLS.CACert},
			{name: "kafka.tls.cert_file", value: k.TLS.CertFile},
			{name: "kafka.tls.key_file", value: k.TLS.KeyFile},
		} {
			if entry.value == "" {
				continue
			}
			if _, err := os.Stat(entry.value); err != nil {
				errs = append(errs, fmt.Errorf("%s not found: %s", entry.name, entry.value))
			}
		}
	}
	if k.SASL.Mechanism != "" {
		switch strings.ToUpper(k.SASL.Mechanism) {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			errs = append(errs, fmt.Errorf("kafka.sasl.mechanism must be PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512, got %q", k.SASL.Mechanism))
		}
		if k.SASL.Username == "" || k.SASL.Password == "" {
			errs = append(errs, errors.New("kafka.sasl.username and kafka.sasl.password are required when sasl.mechanism is set"))
		}
	}
	return errs
}

// Instance returns the configured instance with the given host name.
func (cfg *Config) Instance(hostName string) (InstanceConfig, bool) {
	for _, inst := range cfg.Instances {
		if inst.HostName == hostName {
			return inst, true
		}
	}
	return InstanceConfig{}, false
}
