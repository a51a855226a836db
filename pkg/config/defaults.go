package config

import "time"

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultMode                  = "monitor"
	DefaultWaiterTimeout         = 5 * time.Second
	DefaultAllowPlatformBinaries = true
	DefaultCELPrecedence         = "after_signing_id"
	DefaultEnableTransitive      = true

	// Rules defaults
	DefaultRulesDBPath      = "data/rules.db"
	DefaultRulesBusyTimeout = 5 * time.Second
	DefaultRulesWALMode     = true

	// Events defaults
	DefaultEventsEnabled       = true
	DefaultEventsDBPath        = "data/events.db"
	DefaultEventsAsyncBuffer   = 1000
	DefaultEventsRetentionDays = 30
	DefaultEventsPruneSchedule = "0 3 * * *"

	// Control defaults
	DefaultControlListenAddress   = "127.0.0.1:9578"
	DefaultControlReadTimeout     = 10 * time.Second
	DefaultControlWriteTimeout    = 10 * time.Second
	DefaultControlShutdownTimeout = 10 * time.Second

	// Telemetry defaults
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsEnabled   = true
	DefaultMetricsNamespace = "gatekeeper"
)

// DefaultConfig returns a configuration populated with every default.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults. Boolean fields that
// default to true are handled by the YAML loader setting them before
// unmarshal (see LoadConfig); here they are forced only on a fully zero
// config.
func ApplyDefaults(cfg *Config) {
	if cfg.Engine.Mode == "" {
		cfg.Engine.Mode = DefaultMode
		cfg.Engine.AllowPlatformBinaries = DefaultAllowPlatformBinaries
		cfg.Engine.EnableTransitiveAllow = DefaultEnableTransitive
	}
	if cfg.Engine.WaiterTimeout == 0 {
		cfg.Engine.WaiterTimeout = DefaultWaiterTimeout
	}
	if cfg.Engine.CELPrecedence == "" {
		cfg.Engine.CELPrecedence = DefaultCELPrecedence
	}

	if cfg.Rules.DBPath == "" {
		cfg.Rules.DBPath = DefaultRulesDBPath
		cfg.Rules.WALMode = DefaultRulesWALMode
	}
	if cfg.Rules.BusyTimeout == 0 {
		cfg.Rules.BusyTimeout = DefaultRulesBusyTimeout
	}

	if cfg.Events.DBPath == "" {
		cfg.Events.DBPath = DefaultEventsDBPath
		cfg.Events.Enabled = DefaultEventsEnabled
	}
	if cfg.Events.AsyncBuffer == 0 {
		cfg.Events.AsyncBuffer = DefaultEventsAsyncBuffer
	}
	if cfg.Events.RetentionDays == 0 {
		cfg.Events.RetentionDays = DefaultEventsRetentionDays
	}
	if cfg.Events.PruneSchedule == "" {
		cfg.Events.PruneSchedule = DefaultEventsPruneSchedule
	}

	if cfg.Control.ListenAddress == "" {
		cfg.Control.ListenAddress = DefaultControlListenAddress
	}
	if cfg.Control.ReadTimeout == 0 {
		cfg.Control.ReadTimeout = DefaultControlReadTimeout
	}
	if cfg.Control.WriteTimeout == 0 {
		cfg.Control.WriteTimeout = DefaultControlWriteTimeout
	}
	if cfg.Control.ShutdownTimeout == 0 {
		cfg.Control.ShutdownTimeout = DefaultControlShutdownTimeout
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
		cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	}
}
