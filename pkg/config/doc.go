// Package config defines the agent configuration: YAML file loading with
// defaults, validation and environment variable overrides, plus a watcher
// that reloads the file on change and republishes an immutable engine
// snapshot. The authorization controller receives that snapshot per call;
// nothing in the hot path reads mutable configuration.
package config
