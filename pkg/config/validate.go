package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// ValidationError collects the problems found in a configuration.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// Validate checks the configuration for consistency.
func Validate(cfg *Config) error {
	var problems []string

	if !rule.ClientMode(cfg.Engine.Mode).Valid() {
		problems = append(problems, fmt.Sprintf("engine.mode: unknown mode %q", cfg.Engine.Mode))
	}
	if cfg.Engine.WaiterTimeout <= 0 {
		problems = append(problems, "engine.waiter_timeout: must be positive")
	}
	switch rule.CELPrecedence(cfg.Engine.CELPrecedence) {
	case rule.CELAfterSigningID, rule.CELAfterCertificate:
	default:
		problems = append(problems, fmt.Sprintf("engine.cel_precedence: unknown value %q", cfg.Engine.CELPrecedence))
	}

	if cfg.Rules.DBPath == "" {
		problems = append(problems, "rules.db_path: must not be empty")
	}
	if cfg.Events.Enabled && cfg.Events.DBPath == "" {
		problems = append(problems, "events.db_path: must not be empty when events are enabled")
	}
	if cfg.Events.RetentionDays < 0 {
		problems = append(problems, "events.retention_days: must not be negative")
	}
	if cfg.Events.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Events.PruneSchedule); err != nil {
			problems = append(problems, fmt.Sprintf("events.prune_schedule: %v", err))
		}
	}

	if host, _, err := net.SplitHostPort(cfg.Control.ListenAddress); err != nil {
		problems = append(problems, fmt.Sprintf("control.listen_address: %v", err))
	} else if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
		// The control API is privileged; a non-loopback bind is almost
		// always a mistake.
		problems = append(problems, "control.listen_address: must bind a loopback address")
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.logging.level: unknown level %q", cfg.Telemetry.Logging.Level))
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text", "console":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.logging.format: unknown format %q", cfg.Telemetry.Logging.Format))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
