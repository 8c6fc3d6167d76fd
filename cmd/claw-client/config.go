// ABOUTME: Configuration loading for the claw terminal client.
// ABOUTME: Loads TOML config from XDG path with environment variable expansion.

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Auth    AuthConfig    `toml:"auth"`
	Display DisplayConfig `toml:"display"`
}

type GatewayConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	// VaultPassword is presented in the UnlockVault frame. Usually set
	// via ${CLAW_VAULT_PASSWORD}.
	VaultPassword string `toml:"vault_password"`
}

type DisplayConfig struct {
	ShowThinking bool `toml:"show_thinking"`
	Color        bool `toml:"color"`
}

func configPath() string {
	if envPath := os.Getenv("CLAW_CLIENT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "client.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "claw", "client.toml")
}

// loadConfig reads the config, expanding ${VAR} references. A missing
// file yields defaults pointing at localhost.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		Gateway: GatewayConfig{URL: "ws://localhost:8080/ws"},
		Display: DisplayConfig{ShowThinking: true, Color: true},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("gateway.url must use ws:// or wss://")
	}
	return nil
}
