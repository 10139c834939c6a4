// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, durations, clinic hours and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/clinic-gateway/internal/store"
)

const minimalConfig = `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "./clinic.db"
assistant:
  api_key: "sk-test"
  assistant_id: "asst_123"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configContent := `
server:
  http_addr: "0.0.0.0:8080"
  shutdown_timeout: "5s"

database:
  driver: "sqlite3"
  path: "./test.db"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"

assistant:
  api_key: "sk-test"
  assistant_id: "asst_abc"
  base_url: "http://localhost:9999/v1/"
  request_timeout: "20s"
  max_retries: 4

orchestrator:
  poll_interval: "500ms"
  max_attempts: 60

registry:
  backend: "redis"
  redis_addr: "localhost:6379"
  redis_db: 2
  key_prefix: "test:"
  ttl: "720h"

clinic:
  timezone: "Africa/Cairo"
  opens_at: "08:00"
  last_start: "15:30"
  closes_at: "4:00 PM"
  closed_days: ["Friday", "sat"]

whatsapp:
  enabled: true
  verify_token: "verify"
  app_secret: "app-secret"
  access_token: "EAAB"
  phone_number_id: "1234567890"
  send_rate: 20
  send_burst: 5
  reply_timeout: "90s"
  dedupe_window: "30m"

logging:
  level: "debug"
  format: "json"
`
	cfg, err := Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.Driver != store.DriverCgo {
		t.Errorf("Database.Driver = %q, want sqlite3", cfg.Database.Driver)
	}
	if cfg.Assistant.RequestTimeout != 20*time.Second || cfg.Assistant.MaxRetries != 4 {
		t.Errorf("Assistant = %+v", cfg.Assistant)
	}
	if cfg.Orchestrator.PollInterval != 500*time.Millisecond || cfg.Orchestrator.MaxAttempts != 60 {
		t.Errorf("Orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Registry.Backend != RegistryRedis || cfg.Registry.TTL != 720*time.Hour || cfg.Registry.RedisDB != 2 {
		t.Errorf("Registry = %+v", cfg.Registry)
	}
	if cfg.WhatsApp.ReplyTimeout != 90*time.Second || cfg.WhatsApp.DedupeWindow != 30*time.Minute {
		t.Errorf("WhatsApp durations = %v, %v", cfg.WhatsApp.ReplyTimeout, cfg.WhatsApp.DedupeWindow)
	}
	if cfg.WhatsApp.SendRate != 20 || cfg.WhatsApp.SendBurst != 5 {
		t.Errorf("WhatsApp rate = %v/%d", cfg.WhatsApp.SendRate, cfg.WhatsApp.SendBurst)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	rules := cfg.Clinic.Rules()
	if rules.Location.String() != "Africa/Cairo" {
		t.Errorf("Location = %v, want Africa/Cairo", rules.Location)
	}
	if rules.OpensAt != 8*time.Hour || rules.LastStart != 15*time.Hour+30*time.Minute || rules.ClosesAt != 16*time.Hour {
		t.Errorf("hours = %v %v %v", rules.OpensAt, rules.LastStart, rules.ClosesAt)
	}
	if len(rules.ClosedDays) != 2 || rules.ClosedDays[0] != time.Friday || rules.ClosedDays[1] != time.Saturday {
		t.Errorf("ClosedDays = %v, want [Friday Saturday]", rules.ClosedDays)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Driver != store.DriverModernc {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Orchestrator.PollInterval != time.Second || cfg.Orchestrator.MaxAttempts != 30 {
		t.Errorf("Orchestrator = %+v, want 1s/30", cfg.Orchestrator)
	}
	if cfg.Registry.Backend != RegistrySQLite {
		t.Errorf("Registry.Backend = %q, want sqlite", cfg.Registry.Backend)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	rules := cfg.Clinic.Rules()
	if rules.OpensAt != 9*time.Hour || rules.LastStart != 16*time.Hour+30*time.Minute || rules.ClosesAt != 17*time.Hour {
		t.Errorf("default hours = %v %v %v", rules.OpensAt, rules.LastStart, rules.ClosesAt)
	}
	if len(rules.ClosedDays) != 1 || rules.ClosedDays[0] != time.Sunday {
		t.Errorf("default ClosedDays = %v, want [Sunday]", rules.ClosedDays)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CLINIC_API_KEY", "sk-from-env")
	t.Setenv("TEST_CLINIC_DB", "/var/lib/clinic/gateway.db")

	content := `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "${TEST_CLINIC_DB}"
assistant:
  api_key: "${TEST_CLINIC_API_KEY}"
  assistant_id: "asst_123"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Assistant.APIKey != "sk-from-env" {
		t.Errorf("Assistant.APIKey = %q, want sk-from-env", cfg.Assistant.APIKey)
	}
	if cfg.Database.Path != "/var/lib/clinic/gateway.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestExpandEnvVars_UnsetBecomesEmpty(t *testing.T) {
	got := expandEnvVars("key: ${TEST_CLINIC_SURELY_UNSET_VAR}")
	if got != "key: " {
		t.Errorf("expandEnvVars() = %q, want %q", got, "key: ")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading config file error", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() error = %v, want parsing error", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{"bad duration", "orchestrator:\n  poll_interval: \"soon\"\n", "orchestrator.poll_interval"},
		{"bad timezone", "clinic:\n  timezone: \"Mars/Olympus\"\n", "timezone"},
		{"bad clock", "clinic:\n  opens_at: \"nine\"\n", "opens_at"},
		{"bad weekday", "clinic:\n  closed_days: [\"Funday\"]\n", "closed_days"},
		{"inverted hours", "clinic:\n  opens_at: \"17:00\"\n  last_start: \"09:00\"\n", "opening hours"},
		{"short jwt secret", "auth:\n  jwt_secret: \"short\"\n", "auth.jwt_secret"},
		{"redis without addr", "registry:\n  backend: \"redis\"\n", "registry.redis_addr"},
		{"unknown registry", "registry:\n  backend: \"etcd\"\n", "registry.backend"},
		{"whatsapp without token", "whatsapp:\n  enabled: true\n", "whatsapp.verify_token"},
		{"bad log level", "logging:\n  level: \"loud\"\n", "logging.level"},
		{"bad log format", "logging:\n  format: \"xml\"\n", "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, minimalConfig+tt.extra))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_UnknownDriver(t *testing.T) {
	content := strings.Replace(minimalConfig, "database:\n", "database:\n  driver: \"postgres\"\n", 1)
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("Load() error = %v, want database.driver error", err)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without hostname", func(c *Config) { c.Server.HTTPAddr = ""; c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing api key", func(c *Config) { c.Assistant.APIKey = "" }, "assistant.api_key"},
		{"missing assistant id", func(c *Config) { c.Assistant.AssistantID = "" }, "assistant.assistant_id"},
		{"zero attempts", func(c *Config) { c.Orchestrator.MaxAttempts = 0 }, "orchestrator.max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimalConfig))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_TailscaleWithoutHTTPAddr(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cfg.Server.HTTPAddr = ""
	cfg.Tailscale.Enabled = true
	cfg.Tailscale.Hostname = "clinic"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
