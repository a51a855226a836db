package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"clearpath-hq/gatekeeper/pkg/rule"
)

// eventSchema contains the SQL statements to create the event database
// schema.
const eventSchema = `
CREATE TABLE IF NOT EXISTS decision_events (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    pid INTEGER NOT NULL,

    path TEXT NOT NULL,
    sha256 TEXT NOT NULL,
    cdhash TEXT NOT NULL DEFAULT '',
    signing_id TEXT NOT NULL DEFAULT '',
    team_id TEXT NOT NULL DEFAULT '',
    cert_sha256 TEXT NOT NULL DEFAULT '',

    verdict TEXT NOT NULL,
    reason TEXT NOT NULL,
    mode TEXT NOT NULL,
    notify BOOLEAN NOT NULL,
    message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON decision_events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_verdict ON decision_events(verdict);
`

// StoreConfig configures the event store.
type StoreConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// DefaultQueryLimit caps queries that do not specify a limit.
	// Default: 100
	DefaultQueryLimit int
}

// DefaultStoreConfig returns the default event store configuration.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Path:              "data/events.db",
		BusyTimeout:       5 * time.Second,
		DefaultQueryLimit: 100,
	}
}

// Store persists decision events in SQLite.
type Store struct {
	db     *sql.DB
	config *StoreConfig
	logger *slog.Logger
}

// NewStore opens (creating if necessary) the event database and applies
// the schema.
func NewStore(config *StoreConfig) (*Store, error) {
	if config == nil {
		config = DefaultStoreConfig()
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}
	if config.DefaultQueryLimit == 0 {
		config.DefaultQueryLimit = 100
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	s := &Store{
		db:     db,
		config: config,
		logger: slog.Default().With("component", "events.store"),
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", config.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(eventSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event schema: %w", err)
	}

	s.logger.Info("event store initialized", "path", config.Path)
	return s, nil
}

// Insert stores one event.
func (s *Store) Insert(ctx context.Context, ev *DecisionEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_events
		 (id, request_id, occurred_at, pid, path, sha256, cdhash, signing_id, team_id, cert_sha256,
		  verdict, reason, mode, notify, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RequestID, ev.OccurredAt.UTC(), ev.PID,
		ev.Path, ev.ContentHash, ev.CDHash, ev.SigningID, ev.TeamID, ev.CertificateHash,
		ev.Verdict, ev.Reason, string(ev.Mode), ev.Notify, ev.Message)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// List returns events matching the query, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]*DecisionEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.config.DefaultQueryLimit
	}

	query := `SELECT id, request_id, occurred_at, pid, path, sha256, cdhash, signing_id,
	                 team_id, cert_sha256, verdict, reason, mode, notify, message
	          FROM decision_events WHERE occurred_at >= ?`
	args := []any{q.Since.UTC()}
	if q.DeniedOnly {
		query += ` AND verdict IN ('deny', 'hold_denied')`
	}
	query += ` ORDER BY occurred_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*DecisionEvent
	for rows.Next() {
		ev := &DecisionEvent{}
		var mode string
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.OccurredAt, &ev.PID, &ev.Path,
			&ev.ContentHash, &ev.CDHash, &ev.SigningID, &ev.TeamID, &ev.CertificateHash,
			&ev.Verdict, &ev.Reason, &mode, &ev.Notify, &ev.Message); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Mode = rule.ClientMode(mode)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes events recorded before cutoff and returns the
// number deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM decision_events WHERE occurred_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	return n, nil
}

// Count returns the total number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Ping verifies the database connection, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
