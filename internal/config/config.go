// ABOUTME: Configuration loading and parsing for warden
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warden configuration.
type Config struct {
	Admins   []int64         `yaml:"admins"`
	Database DatabaseConfig  `yaml:"database"`
	Sessions SessionsConfig  `yaml:"sessions"`
	Access   AccessConfig    `yaml:"access"`
	Protocol ProtocolConfig  `yaml:"protocol"`
	Matrix   MatrixConfig    `yaml:"matrix"`
	Accounts []AccountConfig `yaml:"accounts"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds the audit database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionsConfig holds where durable session artifacts live.
type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

// AccessConfig holds grant sweep timing.
type AccessConfig struct {
	SweepInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// ProtocolConfig selects the protocol driver.
type ProtocolConfig struct {
	Driver string `yaml:"driver"`
}

// MatrixConfig holds the command-transport connection and operator mapping.
type MatrixConfig struct {
	Homeserver    string           `yaml:"homeserver"`
	UserID        string           `yaml:"user_id"`
	AccessToken   string           `yaml:"access_token"`
	AllowedRooms  []string         `yaml:"allowed_rooms"`
	CommandPrefix string           `yaml:"command_prefix"`
	Operators     []OperatorConfig `yaml:"operators"`
}

// OperatorConfig maps one matrix user to a numeric control-plane ID.
type OperatorConfig struct {
	MatrixID string `yaml:"matrix_id"`
	ID       int64  `yaml:"id"`
}

// AccountConfig is a pre-seeded account started at process launch.
type AccountConfig struct {
	Phone   string       `yaml:"phone"`
	APIID   int          `yaml:"api_id"`
	APIHash string       `yaml:"api_hash"`
	Label   string       `yaml:"label"`
	Proxy   *ProxyConfig `yaml:"proxy"`
}

// ProxyConfig is an optional outbound proxy for one account.
type ProxyConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values the file may omit.
func (c *Config) applyDefaults() {
	if c.Sessions.Dir == "" {
		c.Sessions.Dir = "sessions"
	}
	if c.Access.SweepInterval == 0 {
		c.Access.SweepInterval = time.Minute
	}
	if c.Protocol.Driver == "" {
		c.Protocol.Driver = "fake"
	}
	for i := range c.Accounts {
		if c.Accounts[i].Label == "" {
			c.Accounts[i].Label = "session_" + c.Accounts[i].Phone
		}
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if len(c.Admins) == 0 {
		return fmt.Errorf("admins is required (at least one admin user ID)")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Phone == "" {
			return fmt.Errorf("accounts[].phone is required")
		}
		if seen[a.Phone] {
			return fmt.Errorf("duplicate account phone %s", a.Phone)
		}
		seen[a.Phone] = true
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Access.SweepIntervalRaw != "" {
		var err error
		cfg.Access.SweepInterval, err = time.ParseDuration(cfg.Access.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Access.SweepIntervalRaw, err)
		}
	}
	return nil
}
