// Package config provides unified configuration for the starbox server.
//
// Configuration is loaded in layers:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (STARBOX_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the starbox server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Auth          AuthConfig          `yaml:"auth"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds transport settings.
type ServerConfig struct {
	Transport    string        `yaml:"transport"`     // "stdio" or "http", default: "stdio"
	Port         int           `yaml:"port"`          // default: 8080
	Path         string        `yaml:"path"`          // MCP endpoint, default: "/mcp"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 60s
}

// SandboxConfig holds the per-run resource limits.
type SandboxConfig struct {
	Timeout          time.Duration `yaml:"timeout"`            // default: 10s
	MaxSteps         uint64        `yaml:"max_steps"`          // default: 100000000
	MaxCallDepth     int           `yaml:"max_call_depth"`     // default: 1000
	MaxOutputBytes   int           `yaml:"max_output_bytes"`   // per sink, default: 1 MiB
	MaxConcurrent    int64         `yaml:"max_concurrent"`     // default: 8
	MemoryLimitBytes int64         `yaml:"memory_limit_bytes"` // 0 leaves the runtime default
}

// AuthConfig holds authentication settings for the HTTP transport.
type AuthConfig struct {
	Type          string          `yaml:"type"`           // "none", "apikey" or "jwt", default: "none"
	APIKeys       []APIKeyConfig  `yaml:"api_keys"`       // for type=apikey
	JWT           JWTConfig       `yaml:"jwt"`            // for type=jwt
	RequiredScope string          `yaml:"required_scope"` // optional
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	TenantID    string   `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig holds JWT/JWKS validation settings.
type JWTConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"` // required for type=jwt
	SubjectClaim string        `yaml:"subject_claim"`
	TenantClaim  string        `yaml:"tenant_claim"`
	ScopesClaim  string        `yaml:"scopes_claim"`
	TierClaim    string        `yaml:"tier_claim"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig holds per-tier request rates. A rate of 0 is unlimited.
type RateLimitConfig struct {
	Enabled    bool           `yaml:"enabled"`
	DefaultRPM int            `yaml:"default_rpm"` // default: 60
	Tiers      map[string]int `yaml:"tiers"`       // tier -> requests per minute
}

// AuditConfig holds execution audit settings.
type AuditConfig struct {
	Type     string         `yaml:"type"`     // "none", "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for the memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log settings. STARBOX_LOG_LEVEL and STARBOX_DEBUG
// take precedence.
type LoggingConfig struct {
	Level string `yaml:"level"` // TRACE, DEBUG, INFO, WARN, ERROR; default: INFO
	Debug string `yaml:"debug"` // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Transport:    "stdio",
			Port:         8080,
			Path:         "/mcp",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Sandbox: SandboxConfig{
			Timeout:        10 * time.Second,
			MaxSteps:       100_000_000,
			MaxCallDepth:   1000,
			MaxOutputBytes: 1 << 20,
			MaxConcurrent:  8,
		},
		Auth: AuthConfig{
			Type: "none",
			RateLimit: RateLimitConfig{
				DefaultRPM: 60,
			},
		},
		Audit: AuditConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}
