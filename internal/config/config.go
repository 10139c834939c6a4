// ABOUTME: Configuration loading and parsing for clinic-gateway
// ABOUTME: Supports YAML files with environment variable expansion, durations and clinic hours

package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/2389/clinic-gateway/internal/auth"
	"github.com/2389/clinic-gateway/internal/slots"
	"github.com/2389/clinic-gateway/internal/store"
)

// Registry backends
const (
	RegistrySQLite = "sqlite"
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// Config represents the complete clinic-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Assistant    AssistantConfig    `yaml:"assistant"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Registry     RegistryConfig     `yaml:"registry"`
	Clinic       ClinicConfig       `yaml:"clinic"`
	WhatsApp     WhatsAppConfig     `yaml:"whatsapp"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"` // public HTTPS, needed for the WhatsApp webhook
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path   string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret protects /api routes when set.
	JWTSecret string `yaml:"jwt_secret"`
}

// AssistantConfig configures the hosted assistant service.
type AssistantConfig struct {
	APIKey         string        `yaml:"api_key"`
	AssistantID    string        `yaml:"assistant_id"`
	BaseURL        string        `yaml:"base_url"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// OrchestratorConfig holds run polling configuration
type OrchestratorConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"-"`

	PollIntervalRaw string `yaml:"poll_interval"`
}

// RegistryConfig selects where user-to-conversation handles are kept.
type RegistryConfig struct {
	Backend       string        `yaml:"backend"` // sqlite, memory, redis
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	TTL           time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// ClinicConfig holds the clinic's opening hours.
type ClinicConfig struct {
	Timezone   string   `yaml:"timezone"`
	OpensAt    string   `yaml:"opens_at"`
	LastStart  string   `yaml:"last_start"`
	ClosesAt   string   `yaml:"closes_at"`
	ClosedDays []string `yaml:"closed_days"`

	rules slots.Rules
}

// WhatsAppConfig holds WhatsApp Cloud API configuration
type WhatsAppConfig struct {
	Enabled        bool    `yaml:"enabled"`
	VerifyToken    string  `yaml:"verify_token"`
	AppSecret      string  `yaml:"app_secret"`
	AccessToken    string  `yaml:"access_token"`
	PhoneNumberID  string  `yaml:"phone_number_id"`
	BaseURL        string  `yaml:"base_url"`
	APIVersion     string  `yaml:"api_version"`
	SendRate       float64 `yaml:"send_rate"` // messages per second, 0 = unlimited
	SendBurst      int     `yaml:"send_burst"`
	DedupeCapacity int     `yaml:"dedupe_capacity"`

	ReplyTimeout time.Duration `yaml:"-"`
	DedupeWindow time.Duration `yaml:"-"`

	ReplyTimeoutRaw string `yaml:"reply_timeout"`
	DedupeWindowRaw string `yaml:"dedupe_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Rules returns the slot rules described by the clinic section.
func (c *ClinicConfig) Rules() slots.Rules {
	return c.rules
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration and clock strings are parsed, then defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration content.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := parseClinic(&cfg.Clinic); err != nil {
		return nil, fmt.Errorf("parsing clinic hours: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = store.DriverModernc
	}
	if cfg.Assistant.MaxRetries == 0 {
		cfg.Assistant.MaxRetries = 2
	}
	if cfg.Orchestrator.PollInterval == 0 {
		cfg.Orchestrator.PollInterval = time.Second
	}
	if cfg.Orchestrator.MaxAttempts == 0 {
		cfg.Orchestrator.MaxAttempts = 30
	}
	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = RegistrySQLite
	}
	if cfg.WhatsApp.ReplyTimeout == 0 {
		cfg.WhatsApp.ReplyTimeout = 2 * time.Minute
	}
	if cfg.WhatsApp.DedupeWindow == 0 {
		cfg.WhatsApp.DedupeWindow = time.Hour
	}
	if cfg.WhatsApp.DedupeCapacity == 0 {
		cfg.WhatsApp.DedupeCapacity = 10000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Driver != store.DriverModernc && c.Database.Driver != store.DriverCgo {
		return fmt.Errorf("database.driver must be %q or %q, got %q", store.DriverModernc, store.DriverCgo, c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	if c.Assistant.APIKey == "" {
		return fmt.Errorf("assistant.api_key is required")
	}
	if c.Assistant.AssistantID == "" {
		return fmt.Errorf("assistant.assistant_id is required")
	}
	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be positive")
	}
	if c.Orchestrator.PollInterval < 0 {
		return fmt.Errorf("orchestrator.poll_interval must not be negative")
	}

	switch c.Registry.Backend {
	case RegistrySQLite, RegistryMemory:
	case RegistryRedis:
		if c.Registry.RedisAddr == "" {
			return fmt.Errorf("registry.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("registry.backend must be sqlite, memory or redis, got %q", c.Registry.Backend)
	}

	if c.WhatsApp.Enabled {
		if c.WhatsApp.VerifyToken == "" {
			return fmt.Errorf("whatsapp.verify_token is required when whatsapp is enabled")
		}
		if c.WhatsApp.AccessToken == "" {
			return fmt.Errorf("whatsapp.access_token is required when whatsapp is enabled")
		}
		if c.WhatsApp.PhoneNumberID == "" {
			return fmt.Errorf("whatsapp.phone_number_id is required when whatsapp is enabled")
		}
		if c.WhatsApp.SendRate < 0 {
			return fmt.Errorf("whatsapp.send_rate must not be negative")
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"assistant.request_timeout", cfg.Assistant.RequestTimeoutRaw, &cfg.Assistant.RequestTimeout},
		{"orchestrator.poll_interval", cfg.Orchestrator.PollIntervalRaw, &cfg.Orchestrator.PollInterval},
		{"registry.ttl", cfg.Registry.TTLRaw, &cfg.Registry.TTL},
		{"whatsapp.reply_timeout", cfg.WhatsApp.ReplyTimeoutRaw, &cfg.WhatsApp.ReplyTimeout},
		{"whatsapp.dedupe_window", cfg.WhatsApp.DedupeWindowRaw, &cfg.WhatsApp.DedupeWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// parseClinic builds slot rules from the clinic section. Unset fields keep
// the defaults: 09:00 to 17:00 with the last start at 16:30, closed Sundays,
// in the host's local zone.
func parseClinic(c *ClinicConfig) error {
	rules := slots.DefaultRules()

	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
		rules.Location = loc
	}

	clocks := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"opens_at", c.OpensAt, &rules.OpensAt},
		{"last_start", c.LastStart, &rules.LastStart},
		{"closes_at", c.ClosesAt, &rules.ClosesAt},
	}
	for _, f := range clocks {
		if f.raw == "" {
			continue
		}
		d, err := slots.ParseClock(f.raw)
		if err != nil {
			return fmt.Errorf("%s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	if c.ClosedDays != nil {
		rules.ClosedDays = make([]time.Weekday, 0, len(c.ClosedDays))
		for _, name := range c.ClosedDays {
			day, err := slots.ParseWeekday(name)
			if err != nil {
				return fmt.Errorf("closed_days: %w", err)
			}
			rules.ClosedDays = append(rules.ClosedDays, day)
		}
	}

	if rules.OpensAt > rules.LastStart || rules.LastStart >= rules.ClosesAt {
		return fmt.Errorf("opening hours must satisfy opens_at <= last_start < closes_at")
	}

	c.rules = rules
	return nil
}
