package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file. The file is unmarshaled
// over a fully defaulted config, so absent fields (including booleans that
// default to true) keep their defaults. The result is validated before
// being returned.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Variables follow the convention
// GATEKEEPER_SECTION_FIELD (e.g. GATEKEEPER_ENGINE_MODE) and always take
// precedence over file contents.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GATEKEEPER_ENGINE_MODE"); val != "" {
		cfg.Engine.Mode = val
	}
	if val := os.Getenv("GATEKEEPER_ENGINE_WAITER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.WaiterTimeout = d
		}
	}
	if val := os.Getenv("GATEKEEPER_ENGINE_ALLOW_PLATFORM_BINARIES"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Engine.AllowPlatformBinaries = b
		}
	}
	if val := os.Getenv("GATEKEEPER_ENGINE_CEL_PRECEDENCE"); val != "" {
		cfg.Engine.CELPrecedence = val
	}
	if val := os.Getenv("GATEKEEPER_RULES_DB_PATH"); val != "" {
		cfg.Rules.DBPath = val
	}
	if val := os.Getenv("GATEKEEPER_EVENTS_DB_PATH"); val != "" {
		cfg.Events.DBPath = val
	}
	if val := os.Getenv("GATEKEEPER_EVENTS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Events.Enabled = b
		}
	}
	if val := os.Getenv("GATEKEEPER_CONTROL_LISTEN_ADDRESS"); val != "" {
		cfg.Control.ListenAddress = val
	}
	if val := os.Getenv("GATEKEEPER_LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("GATEKEEPER_LOG_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("GATEKEEPER_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
}
