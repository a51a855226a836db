package config

import "time"

// Config is the root configuration structure for the gatekeeper agent.
type Config struct {
	// Engine contains the authorization engine settings: operating mode,
	// waiter timeout and rule-evaluation toggles.
	Engine EngineConfig `yaml:"engine"`

	// Rules contains the rule database settings.
	Rules RulesConfig `yaml:"rules"`

	// Events contains the decision event log settings.
	Events EventsConfig `yaml:"events"`

	// Control contains the local control API settings.
	Control ControlConfig `yaml:"control"`

	// Telemetry contains logging and metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig contains authorization engine settings.
type EngineConfig struct {
	// Mode is the operating mode: "monitor", "lockdown" or "standalone".
	// Default: "monitor"
	Mode string `yaml:"mode"`

	// WaiterTimeout bounds how long a request waits on another request's
	// in-flight evaluation before the per-mode fallback applies.
	// Default: 5s
	WaiterTimeout time.Duration `yaml:"waiter_timeout"`

	// AllowPlatformBinaries allows OS-vendor-signed binaries that match
	// no rule.
	// Default: true
	AllowPlatformBinaries bool `yaml:"allow_platform_binaries"`

	// CELPrecedence is the insertion point of the CEL pass in the rule
	// precedence order: "after_signing_id" or "after_certificate".
	// Default: "after_signing_id"
	CELPrecedence string `yaml:"cel_precedence"`

	// EnableTransitiveAllow enables compiler tracking and transitive
	// allow rules.
	// Default: true
	EnableTransitiveAllow bool `yaml:"enable_transitive_allow"`
}

// RulesConfig contains rule database settings.
type RulesConfig struct {
	// DBPath is the rule database file path.
	// Default: "data/rules.db"
	DBPath string `yaml:"db_path"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`
}

// EventsConfig contains decision event log settings.
type EventsConfig struct {
	// Enabled enables event recording.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// DBPath is the event database file path.
	// Default: "data/events.db"
	DBPath string `yaml:"db_path"`

	// RecordAllDecisions records allows as well as denies.
	// Default: false
	RecordAllDecisions bool `yaml:"record_all_decisions"`

	// AsyncBuffer is the async recorder buffer size.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// RetentionDays is how long events are kept. 0 disables pruning.
	// Default: 30
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron schedule for retention pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// ControlConfig contains local control API settings.
type ControlConfig struct {
	// ListenAddress is the address the control server binds. It should
	// stay loopback-only; the control API is privileged.
	// Default: "127.0.0.1:9578"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout and WriteTimeout bound control request handling.
	// Default: 10s each
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig contains logging and metrics settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json", "text" or "console".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains prometheus metrics settings.
type MetricsConfig struct {
	// Enabled mounts the /metrics endpoint on the control server.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace and Subsystem prefix every metric name.
	// Defaults: "gatekeeper", ""
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}
