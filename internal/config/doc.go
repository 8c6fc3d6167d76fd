// Package config handles configuration loading for claw-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CLAW_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  lockout: "30s"
//	  failure_window: "60s"
//	  token_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  listen_addr: "0.0.0.0:8443"
//	  cert_file: "/etc/claw/tls.crt"  # optional; enables TLS
//	  key_file: "/etc/claw/tls.key"
//
// Database:
//
//	database:
//	  path: "/var/lib/claw/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${CLAW_JWT_SECRET}"  # Required
//	  max_failures: 3
//	  lockout: "30s"
//	  failure_window: "60s"
//	  token_ttl: "24h"
//
// Vault:
//
//	vault:
//	  password: "${CLAW_VAULT_PASSWORD}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/claw/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
