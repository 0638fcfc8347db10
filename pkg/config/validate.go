package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Transport {
	case "stdio":
	case "http":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
		}
		if !strings.HasPrefix(c.Server.Path, "/") {
			errs = append(errs, fmt.Errorf("server.path must start with \"/\", got %q", c.Server.Path))
		}
	default:
		errs = append(errs, fmt.Errorf("server.transport must be \"stdio\" or \"http\", got %q", c.Server.Transport))
	}

	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be > 0, got %s", c.Sandbox.Timeout))
	}
	if c.Sandbox.MaxSteps == 0 {
		errs = append(errs, errors.New("sandbox.max_steps must be > 0"))
	}
	if c.Sandbox.MaxCallDepth <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.max_call_depth must be > 0, got %d", c.Sandbox.MaxCallDepth))
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.max_output_bytes must be > 0, got %d", c.Sandbox.MaxOutputBytes))
	}
	if c.Sandbox.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.max_concurrent must be > 0, got %d", c.Sandbox.MaxConcurrent))
	}
	if c.Sandbox.MemoryLimitBytes < 0 {
		errs = append(errs, fmt.Errorf("sandbox.memory_limit_bytes must be >= 0, got %d", c.Sandbox.MemoryLimitBytes))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, errors.New("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, errors.New("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\" or \"jwt\", got %q", c.Auth.Type))
	}
	if c.Auth.RateLimit.DefaultRPM < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.default_rpm must be >= 0, got %d", c.Auth.RateLimit.DefaultRPM))
	}

	switch c.Audit.Type {
	case "none", "memory":
	case "postgres":
		if c.Audit.Postgres.DSN == "" && c.Audit.Postgres.DSNFile == "" {
			errs = append(errs, errors.New("audit.postgres.dsn or audit.postgres.dsn_file is required when audit.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.type must be \"none\", \"memory\" or \"postgres\", got %q", c.Audit.Type))
	}
	if c.Audit.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("audit.max_size must be >= 0, got %d", c.Audit.MaxSize))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be TRACE, DEBUG, INFO, WARN or ERROR, got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}
