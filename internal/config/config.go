// ABOUTME: Configuration loading and parsing for claw-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete claw-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Vault    VaultConfig    `yaml:"vault"`
	Runner   RunnerConfig   `yaml:"runner"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listen address and TLS configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication thresholds and session token settings
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	MaxFailures int    `yaml:"max_failures"`

	Lockout       time.Duration `yaml:"-"`
	FailureWindow time.Duration `yaml:"-"`
	TokenTTL      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	LockoutRaw       string `yaml:"lockout"`
	FailureWindowRaw string `yaml:"failure_window"`
	TokenTTLRaw      string `yaml:"token_ttl"`
}

// VaultConfig holds the vault password used to open the vault at startup.
// Usually supplied via ${CLAW_VAULT_PASSWORD}.
type VaultConfig struct {
	Password string `yaml:"password"`
}

// RunnerConfig holds command execution configuration
type RunnerConfig struct {
	Shell string `yaml:"shell"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	// TLS files come as a pair or not at all
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Auth.MaxFailures < 0 {
		return fmt.Errorf("auth.max_failures must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.LockoutRaw != "" {
		cfg.Auth.Lockout, err = time.ParseDuration(cfg.Auth.LockoutRaw)
		if err != nil {
			return fmt.Errorf("parsing lockout %q: %w", cfg.Auth.LockoutRaw, err)
		}
	}

	if cfg.Auth.FailureWindowRaw != "" {
		cfg.Auth.FailureWindow, err = time.ParseDuration(cfg.Auth.FailureWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing failure_window %q: %w", cfg.Auth.FailureWindowRaw, err)
		}
	}

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}
