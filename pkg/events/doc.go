// Package events records execution decisions for later inspection and
// upload: every deny (and, when configured, every decision) becomes a
// DecisionEvent persisted in a SQLite event log, separate from the rule
// database. Recording is asynchronous so the authorization hot path never
// blocks on event storage. A cron-scheduled pruner enforces the retention
// horizon.
package events
