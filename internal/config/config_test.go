// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: "0.0.0.0:8443"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"
  max_failures: 3
  lockout: "30s"
  failure_window: "60s"
  token_ttl: "24h"

vault:
  password: "hunter2"

runner:
  shell: "bash"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != "0.0.0.0:8443" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "0.0.0.0:8443")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "test-secret")
	}
	if cfg.Auth.MaxFailures != 3 {
		t.Errorf("Auth.MaxFailures = %d, want 3", cfg.Auth.MaxFailures)
	}
	if cfg.Auth.Lockout != 30*time.Second {
		t.Errorf("Auth.Lockout = %v, want 30s", cfg.Auth.Lockout)
	}
	if cfg.Auth.FailureWindow != 60*time.Second {
		t.Errorf("Auth.FailureWindow = %v, want 60s", cfg.Auth.FailureWindow)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 24h", cfg.Auth.TokenTTL)
	}
	if cfg.Vault.Password != "hunter2" {
		t.Errorf("Vault.Password = %q, want %q", cfg.Vault.Password, "hunter2")
	}
	if cfg.Runner.Shell != "bash" {
		t.Errorf("Runner.Shell = %q, want %q", cfg.Runner.Shell, "bash")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CLAW_TEST_SECRET", "expanded-secret")

	path := writeConfig(t, `
server:
  listen_addr: "127.0.0.1:8443"
database:
  path: "./test.db"
auth:
  jwt_secret: "${CLAW_TEST_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "expanded-secret")
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: "127.0.0.1:8443"
database:
  path: "./test.db"
auth:
  jwt_secret: "${CLAW_DEFINITELY_UNSET_VAR}"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail when jwt_secret expands to empty")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error = %v, want mention of jwt_secret", err)
	}
}

func TestLoad_MissingListenAddr(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: "x"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "listen_addr") {
		t.Errorf("Load() error = %v, want listen_addr validation failure", err)
	}
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: "127.0.0.1:8443"
auth:
  jwt_secret: "x"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Errorf("Load() error = %v, want database.path validation failure", err)
	}
}

func TestLoad_TLSFilesMustBePaired(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: "127.0.0.1:8443"
  cert_file: "/tmp/tls.crt"
database:
  path: "./test.db"
auth:
  jwt_secret: "x"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "cert_file") {
		t.Errorf("Load() error = %v, want cert/key pairing failure", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: "127.0.0.1:8443"
database:
  path: "./test.db"
auth:
  jwt_secret: "x"
  lockout: "not-a-duration"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "lockout") {
		t.Errorf("Load() error = %v, want duration parse failure", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail for malformed YAML")
	}
}
