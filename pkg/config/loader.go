package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/starbox/pkg/debug"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STARBOX_"

// Load loads configuration from the layered sources:
//  1. Built-in defaults
//  2. YAML config file (explicit path, STARBOX_CONFIG, ./starbox.yaml, /etc/starbox/starbox.yaml)
//  3. STARBOX_* environment overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log(debug.Config, "loaded config file", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first config file found in discovery
// order, or "" if there is none.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"starbox.yaml", "/etc/starbox/starbox.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses a YAML file over cfg. Fields absent from the file keep
// their current values; unknown fields are an error.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string) error
}

var envOverrides = []envOverride{
	{"TRANSPORT", func(c *Config, v string) error { c.Server.Transport = v; return nil }},
	{"PORT", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"PATH_PREFIX", func(c *Config, v string) error { c.Server.Path = v; return nil }},
	{"TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Sandbox.Timeout, v) }},
	{"MAX_STEPS", func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err == nil {
			c.Sandbox.MaxSteps = n
		}
		return err
	}},
	{"MAX_CALL_DEPTH", func(c *Config, v string) error { return setInt(&c.Sandbox.MaxCallDepth, v) }},
	{"MAX_OUTPUT_BYTES", func(c *Config, v string) error { return setInt(&c.Sandbox.MaxOutputBytes, v) }},
	{"MAX_CONCURRENT", func(c *Config, v string) error { return setInt64(&c.Sandbox.MaxConcurrent, v) }},
	{"MEMORY_LIMIT", func(c *Config, v string) error { return setInt64(&c.Sandbox.MemoryLimitBytes, v) }},
	{"AUTH_TYPE", func(c *Config, v string) error { c.Auth.Type = v; return nil }},
	{"API_KEYS", func(c *Config, v string) error {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return fmt.Errorf("parsing API keys JSON: %w", err)
		}
		c.Auth.APIKeys = keys
		return nil
	}},
	{"JWKS_URL", func(c *Config, v string) error { c.Auth.JWT.JWKSURL = v; return nil }},
	{"AUDIT", func(c *Config, v string) error { c.Audit.Type = v; return nil }},
	{"AUDIT_SIZE", func(c *Config, v string) error { return setInt(&c.Audit.MaxSize, v) }},
	{"AUDIT_DSN", func(c *Config, v string) error { c.Audit.Postgres.DSN = v; return nil }},
	{"METRICS", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			c.Observability.Metrics.Enabled = b
		}
		return err
	}},
}

// applyEnvOverrides maps STARBOX_* environment variables to config fields.
// Malformed values are reported, never silently ignored.
func applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		name := EnvPrefix + o.name
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if o.name == "API_KEYS" || o.name == "AUDIT_DSN" {
			v = "<redacted>"
		}
		slog.Debug("config override from environment", "name", name, "value", v)
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err == nil {
		*dst = n
	}
	return err
}

func setInt64(dst *int64, v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err == nil {
		*dst = n
	}
	return err
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err == nil {
		*dst = d
	}
	return err
}

// resolveFileReferences reads _file fields into their value fields when the
// value is empty. File contents are trimmed of surrounding whitespace.
func resolveFileReferences(cfg *Config) error {
	pg := &cfg.Audit.Postgres
	if pg.DSNFile != "" && pg.DSN == "" {
		val, err := readSecretFile(pg.DSNFile)
		if err != nil {
			return fmt.Errorf("audit.postgres.dsn_file: %w", err)
		}
		pg.DSN = val
	}

	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if k.KeyFile != "" && k.Key == "" {
			val, err := readSecretFile(k.KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			k.Key = val
		}
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
