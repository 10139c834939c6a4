// ABOUTME: Configuration loading for the clinic-matrix bridge
// ABOUTME: Loads TOML config with ${VAR} expansion, defaults and validation

package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Gateway GatewayConfig `toml:"gateway"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	DeviceName  string `toml:"device_name"`
	RecoveryKey string `toml:"recovery_key"`
}

type GatewayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`

	Timeout    time.Duration `toml:"-"`
	TimeoutRaw string        `toml:"timeout"`
}

type BridgeConfig struct {
	AllowedRooms    []string `toml:"allowed_rooms"`
	CommandPrefix   string   `toml:"command_prefix"`
	TypingIndicator bool     `toml:"typing_indicator"`
	DedupeCapacity  int      `toml:"dedupe_capacity"`

	DedupeWindow    time.Duration `toml:"-"`
	DedupeWindowRaw string        `toml:"dedupe_window"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML config text.
func Parse(data string) (*Config, error) {
	expanded := expandEnvVars(data)

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() error {
	if c.Matrix.DeviceName == "" {
		c.Matrix.DeviceName = "clinic-matrix"
	}

	c.Gateway.Timeout = 3 * time.Minute
	if c.Gateway.TimeoutRaw != "" {
		d, err := time.ParseDuration(c.Gateway.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("invalid gateway.timeout: %w", err)
		}
		c.Gateway.Timeout = d
	}

	c.Bridge.DedupeWindow = time.Hour
	if c.Bridge.DedupeWindowRaw != "" {
		d, err := time.ParseDuration(c.Bridge.DedupeWindowRaw)
		if err != nil {
			return fmt.Errorf("invalid bridge.dedupe_window: %w", err)
		}
		c.Bridge.DedupeWindow = d
	}
	if c.Bridge.DedupeCapacity == 0 {
		c.Bridge.DedupeCapacity = 10000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.Username == "" {
		return fmt.Errorf("matrix.username is required")
	}
	if c.Matrix.Password == "" {
		return fmt.Errorf("matrix.password is required")
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}
	if c.Bridge.DedupeWindow <= 0 {
		return fmt.Errorf("bridge.dedupe_window must be positive")
	}
	return nil
}
