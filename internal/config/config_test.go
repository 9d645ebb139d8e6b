package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
instances:
  - host_name: dev12345
    credentials:
      username: admin
      password: admin123
  - host_name: prod01
    timeout_seconds: 10
    rate_limit_rps: 2.5
monitor:
  interval: 2m
kafka:
  enabled: true
  brokers:
    - localhost:9092
`

const saslYAML = `
instances:
  - host_name: dev12345
kafka:
  enabled: true
  brokers: [localhost:9092]
  sasl:
    mechanism: PLAIN
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(cfg.Instances) != 2 {
		t.Fatalf("Instances = %v", cfg.Instances)
	}
	dev := cfg.Instances[0]
	if dev.HostName != "dev12345" {
		t.Errorf("HostName = %q", dev.HostName)
	}
	if dev.Credentials == nil || dev.Credentials.Username != "admin" || dev.Credentials.Password != "admin123" {
		t.Errorf("Credentials = %+v", dev.Credentials)
	}
	prod := cfg.Instances[1]
	if prod.Credentials != nil {
		t.Errorf("prod01 Credentials = %+v, want nil", prod.Credentials)
	}
	if prod.Timeout() != 10*time.Second {
		t.Errorf("prod01 Timeout = %v, want 10s", prod.Timeout())
	}
	if prod.RateLimitRPS != 2.5 {
		t.Errorf("prod01 RateLimitRPS = %v, want 2.5", prod.RateLimitRPS)
	}
	if cfg.Monitor.Interval.Duration != 2*time.Minute {
		t.Errorf("Monitor.Interval = %v, want 2m", cfg.Monitor.Interval)
	}
}

func TestDefaults(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Instances[0].TimeoutSeconds != 30 {
		t.Errorf("TimeoutSeconds default = %d, want 30", cfg.Instances[0].TimeoutSeconds)
	}
	if cfg.Monitor.DownInterval.Duration != 15*time.Second {
		t.Errorf("DownInterval default = %v", cfg.Monitor.DownInterval)
	}
	if cfg.Monitor.StateBackend != "file" {
		t.Errorf("StateBackend default = %q, want file", cfg.Monitor.StateBackend)
	}
	if cfg.Monitor.StateFile != "instance-status.json" {
		t.Errorf("StateFile default = %q", cfg.Monitor.StateFile)
	}
	if cfg.Monitor.FlushInterval.Duration != 5*time.Second {
		t.Errorf("FlushInterval default = %v", cfg.Monitor.FlushInterval)
	}
	if cfg.Kafka.Topic != "servicenow.instance.status" {
		t.Errorf("Kafka.Topic default = %q", cfg.Kafka.Topic)
	}
	if cfg.Kafka.Encoding != "json" {
		t.Errorf("Kafka.Encoding default = %q, want json", cfg.Kafka.Encoding)
	}
	if cfg.Observability.Addr != ":8080" {
		t.Errorf("Observability.Addr default = %q, want :8080", cfg.Observability.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel default = %q, want info", cfg.LogLevel)
	}
}

func TestNoInstances(t *testing.T) {
	path := writeTemp(t, "log_level: debug\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing instances")
	}
	if !strings.Contains(err.Error(), "at least one instance") {
		t.Errorf("error should mention instances: %v", err)
	}
}

func TestInvalidHostNames(t *testing.T) {
	yaml := `
instances:
  - host_name: ""
  - host_name: dev12345.service-now.com
  - host_name: dup
  - host_name: dup
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid host names")
	}
	errStr := err.Error()
	for _, want := range []string{
		"instances[0].host_name is required",
		"instances[1].host_name",
		"listed twice",
	} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

func TestIncompleteCredentials(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
    credentials:
      username: admin
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing password")
	}
	if !strings.Contains(err.Error(), "credentials.password") {
		t.Errorf("error should mention credentials.password: %v", err)
	}
}

func TestSASLValidation(t *testing.T) {
	path := writeTemp(t, saslYAML)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing SASL credentials")
	}
	if !strings.Contains(err.Error(), "kafka.sasl.username") {
		t.Errorf("error should mention kafka.sasl.username: %v", err)
	}
}

func TestInvalidSASLMechanism(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
kafka:
  enabled: true
  brokers: [localhost:9092]
  sasl:
    mechanism: GSSAPI
    username: u
    password: p
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unsupported mechanism")
	}
	if !strings.Contains(err.Error(), "SCRAM-SHA-512") {
		t.Errorf("error should list supported mechanisms: %v", err)
	}
}

func TestAvroRequiresRegistry(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
kafka:
  enabled: true
  brokers: [localhost:9092]
  encoding: avro
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for avro without schema registry")
	}
	if !strings.Contains(err.Error(), "schema_registry_url") {
		t.Errorf("error should mention schema_registry_url: %v", err)
	}
}

func TestKafkaDisabledSkipsValidation(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
kafka:
  enabled: false
  encoding: protobuf
`
	path := writeTemp(t, yaml)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
}

func TestTLSFilesMustExist(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
kafka:
  enabled: true
  brokers: [localhost:9092]
  tls:
    enabled: true
    ca_cert: /nonexistent/ca.pem
    cert_file: /nonexistent/client.pem
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing TLS files")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "kafka.tls.ca_cert not found") {
		t.Errorf("error should mention ca_cert: %v", err)
	}
	if !strings.Contains(errStr, "kafka.tls.key_file is required") {
		t.Errorf("error should mention key_file: %v", err)
	}
}

func TestMonitorIntervalTooShort(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
monitor:
  interval: 100ms
  down_interval: 500ms
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for sub-second intervals")
	}
	if !strings.Contains(err.Error(), "monitor.interval") || !strings.Contains(err.Error(), "monitor.down_interval") {
		t.Errorf("error should mention both intervals: %v", err)
	}
}

func TestInvalidDuration(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
monitor:
  interval: soon
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), `invalid duration "soon"`) {
		t.Errorf("error should mention the invalid duration: %v", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
log_level: verbose
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level: %v", err)
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("SN_HOST", "fromenv01")
	t.Setenv("SN_USER", "env-user")
	t.Setenv("SN_PASS", "env-pass")

	yaml := `
instances:
  - host_name: ${SN_HOST}
    credentials:
      username: ${SN_USER}
      password: $SN_PASS
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	inst, ok := cfg.Instance("fromenv01")
	if !ok {
		t.Fatalf("Instance(fromenv01) not found in %v", cfg.Instances)
	}
	if inst.Credentials.Username != "env-user" || inst.Credentials.Password != "env-pass" {
		t.Errorf("Credentials = %+v, want env values", inst.Credentials)
	}
}

func TestInstanceLookup(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, ok := cfg.Instance("missing"); ok {
		t.Error("Instance(missing) should not be found")
	}
	if inst, ok := cfg.Instance("prod01"); !ok || inst.HostName != "prod01" {
		t.Errorf("Instance(prod01) = %+v, %v", inst, ok)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %v", err)
	}
}

func TestDurationMarshalYAML(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	v, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML: %v", err)
	}
	if v != "1m30s" {
		t.Errorf("MarshalYAML = %v, want 1m30s", v)
	}
}

func TestBoltStateBackend(t *testing.T) {
	yaml := `
instances:
  - host_name: dev12345
monitor:
  state_backend: bolt
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if cfg.Monitor.StateFile != "instance-status.db" {
		t.Errorf("StateFile default for bolt = %q", cfg.Monitor.StateFile)
	}

	_, err = Parse([]byte(`
instances:
  - host_name: dev12345
monitor:
  state_backend: redis
`))
	if err == nil || !strings.Contains(err.Error(), "monitor.state_backend") {
		t.Errorf("error = %v, want state_backend error", err)
	}
}
