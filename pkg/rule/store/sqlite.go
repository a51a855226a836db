package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// Store is the rule-store interface consumed by the evaluator and the
// control surface. Lookup methods are served from the in-memory mirror and
// never block on the database.
type Store interface {
	// Lookup returns the rule for (identifier, type), or nil.
	Lookup(identifier string, t rule.Type) *rule.Rule

	// LookupRule tries the supplied identifiers in precedence order and
	// returns the first matching rule, or nil.
	LookupRule(ids IdentifierSet) *rule.Rule

	// AddRules applies the given cleanup mode, then inserts rules.
	// A rule with state "remove" deletes the matching row instead.
	AddRules(ctx context.Context, rules []*rule.Rule, cleanup rule.Cleanup) error

	// Remove deletes the rule for (identifier, type).
	Remove(ctx context.Context, identifier string, t rule.Type) error

	// All returns every active rule, for export.
	All() []*rule.Rule

	// Counts returns per-category rule counts.
	Counts() Counts

	// OnChange registers a callback invoked after every successful
	// mutation with the set of affected rules. Used for cache
	// invalidation.
	OnChange(fn func(ChangeSet))

	// Close releases the underlying database.
	Close() error
}

// IdentifierSet carries any subset of a binary's rule identifiers for a
// precedence-ordered lookup.
type IdentifierSet struct {
	CDHash            string
	BinarySHA256      string
	SigningID         string
	CertificateSHA256 string
	TeamID            string
}

// IdentifierFor mirrors BinaryIdentity.IdentifierFor for partial sets.
func (s IdentifierSet) IdentifierFor(t rule.Type) (string, bool) {
	switch t {
	case rule.TypeCDHash:
		return s.CDHash, s.CDHash != ""
	case rule.TypeBinary:
		return s.BinarySHA256, s.BinarySHA256 != ""
	case rule.TypeSigningID, rule.TypeCEL:
		return s.SigningID, s.SigningID != ""
	case rule.TypeCertificate:
		return s.CertificateSHA256, s.CertificateSHA256 != ""
	case rule.TypeTeamID:
		return s.TeamID, s.TeamID != ""
	}
	return "", false
}

// Counts holds per-category rule counts for the control surface.
type Counts struct {
	Binary      int64 `json:"binary"`
	Certificate int64 `json:"certificate"`
	Compiler    int64 `json:"compiler"`
	Transitive  int64 `json:"transitive"`
	TeamID      int64 `json:"teamid"`
	SigningID   int64 `json:"signingid"`
	CDHash      int64 `json:"cdhash"`
	CEL         int64 `json:"cel"`
}

// ChangeSet describes rules affected by a mutation, for cache invalidation.
// Flush is set when the mutation was too broad to enumerate (cleanup modes),
// in which case the whole decision cache must be flushed.
type ChangeSet struct {
	Rules []ChangedRule
	Flush bool
}

// ChangedRule identifies one added or removed rule.
type ChangedRule struct {
	Identifier string
	Type       rule.Type
}

type mirrorKey struct {
	identifier string
	t          rule.Type
}

// SQLiteConfig contains configuration for the SQLite rule store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool
}

// DefaultSQLiteConfig returns the default rule store configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/rules.db",
		BusyTimeout: 5 * time.Second,
		WALMode:     true,
	}
}

// SQLiteStore implements Store backed by SQLite with a full in-memory
// mirror.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger

	// mu guards mirror and listeners. Mutations additionally serialize on
	// writeMu so the mirror matches the database row-for-row.
	mu        sync.RWMutex
	mirror    map[mirrorKey]*rule.Rule
	listeners []func(ChangeSet)
	writeMu   sync.Mutex
}

// NewSQLiteStore opens (creating if necessary) the rule database, applies
// the schema and loads the mirror.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "rule.store")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStoreError("open", err)
	}

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
		mirror: make(map[mirrorKey]*rule.Rule),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadMirror(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("rule store initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"rules", len(s.mirror),
	)

	return s, nil
}

// initialize sets up the database schema and pragmas.
func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStoreError("enable_wal", err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return NewStoreError("set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStoreError("create_schema", err)
	}
	return nil
}

// loadMirror reads every rule row into the in-memory mirror. Rows with a
// "remove" state indicate a store bug; they are deleted and skipped.
func (s *SQLiteStore) loadMirror() error {
	rows, err := s.db.Query(
		`SELECT identifier, type, state, custom_message, custom_url, comment, cel_expression, created_at FROM rules`)
	if err != nil {
		return NewStoreError("load", err)
	}
	defer rows.Close()

	mirror := make(map[mirrorKey]*rule.Rule)
	var tombstones []mirrorKey
	for rows.Next() {
		r := &rule.Rule{}
		var typ, state string
		if err := rows.Scan(&r.Identifier, &typ, &state, &r.CustomMessage,
			&r.CustomURL, &r.Comment, &r.CELExpression, &r.CreatedAt); err != nil {
			return NewStoreError("scan", err)
		}
		r.Type = rule.Type(typ)
		r.State = rule.State(state)
		if r.State == rule.StateRemove {
			tombstones = append(tombstones, mirrorKey{r.Identifier, r.Type})
			continue
		}
		mirror[mirrorKey{r.Identifier, r.Type}] = r
	}
	if err := rows.Err(); err != nil {
		return NewStoreError("load", err)
	}

	// Tombstones should never rest in the table; normalize to absence.
	for _, k := range tombstones {
		s.logger.Warn("removing tombstone rule row",
			"identifier", k.identifier,
			"type", string(k.t),
		)
		if _, err := s.db.Exec(`DELETE FROM rules WHERE identifier = ? AND type = ?`, k.identifier, string(k.t)); err != nil {
			return NewStoreError("delete_tombstone", err)
		}
	}

	s.mu.Lock()
	s.mirror = mirror
	s.mu.Unlock()
	return nil
}

// Lookup returns the rule for (identifier, type) from the mirror, or nil.
func (s *SQLiteStore) Lookup(identifier string, t rule.Type) *rule.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror[mirrorKey{rule.NormalizeIdentifier(t, identifier), t}]
}

// LookupRule tries the supplied identifiers in precedence order and returns
// the first matching rule.
func (s *SQLiteStore) LookupRule(ids IdentifierSet) *rule.Rule {
	for _, t := range rule.PrecedenceOrder {
		identifier, ok := ids.IdentifierFor(t)
		if !ok {
			continue
		}
		if r := s.Lookup(identifier, t); r != nil {
			return r
		}
	}
	return nil
}

// All returns a copy of every active rule.
func (s *SQLiteStore) All() []*rule.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]*rule.Rule, 0, len(s.mirror))
	for _, r := range s.mirror {
		rules = append(rules, r)
	}
	return rules
}

// Counts returns per-category rule counts computed from the mirror.
func (s *SQLiteStore) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, r := range s.mirror {
		switch r.State {
		case rule.StateAllowCompiler:
			c.Compiler++
			continue
		case rule.StateAllowTransitive:
			c.Transitive++
			continue
		}
		switch r.Type {
		case rule.TypeBinary:
			c.Binary++
		case rule.TypeCertificate:
			c.Certificate++
		case rule.TypeTeamID:
			c.TeamID++
		case rule.TypeSigningID:
			c.SigningID++
		case rule.TypeCDHash:
			c.CDHash++
		case rule.TypeCEL:
			c.CEL++
		}
	}
	return c
}

// AddRules applies the cleanup mode, then inserts (or removes, for
// tombstone states) each rule inside one transaction. The mirror and change
// listeners are updated only after the transaction commits.
func (s *SQLiteStore) AddRules(ctx context.Context, rules []*rule.Rule, cleanup rule.Cleanup) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil && r.State != rule.StateRemove {
			return err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStoreError("begin", err)
	}
	defer tx.Rollback()

	change := ChangeSet{}

	switch cleanup {
	case rule.CleanupAll:
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
			return NewStoreError("cleanup_all", err)
		}
		change.Flush = true
	case rule.CleanupNonTransitive:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM rules WHERE state != ?`, string(rule.StateAllowTransitive)); err != nil {
			return NewStoreError("cleanup_non_transitive", err)
		}
		change.Flush = true
	}

	now := time.Now().UTC()
	var duplicates []*DuplicateRuleError
	for _, r := range rules {
		identifier := rule.NormalizeIdentifier(r.Type, r.Identifier)
		if r.State == rule.StateRemove {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM rules WHERE identifier = ? AND type = ?`,
				identifier, string(r.Type)); err != nil {
				return NewStoreError("delete", err)
			}
			change.Rules = append(change.Rules, ChangedRule{identifier, r.Type})
			continue
		}

		if cleanup == rule.CleanupNone {
			if existing := s.Lookup(identifier, r.Type); existing != nil && existing.State != r.State {
				duplicates = append(duplicates, &DuplicateRuleError{
					Identifier: identifier,
					Type:       r.Type,
					OldState:   existing.State,
					NewState:   r.State,
				})
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rules (identifier, type, state, custom_message, custom_url, comment, cel_expression, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(identifier, type) DO UPDATE SET
			   state = excluded.state,
			   custom_message = excluded.custom_message,
			   custom_url = excluded.custom_url,
			   comment = excluded.comment,
			   cel_expression = excluded.cel_expression,
			   created_at = excluded.created_at`,
			identifier, string(r.Type), string(r.State),
			r.CustomMessage, r.CustomURL, r.Comment, r.CELExpression, now); err != nil {
			return NewStoreError("insert", err)
		}
		change.Rules = append(change.Rules, ChangedRule{identifier, r.Type})
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("commit", err)
	}

	// Last writer wins on conflicting re-adds; surface them in the log.
	for _, d := range duplicates {
		s.logger.Warn("rule replaced with conflicting state",
			"identifier", d.Identifier,
			"type", string(d.Type),
			"old_state", string(d.OldState),
			"new_state", string(d.NewState),
		)
	}

	s.applyToMirror(rules, cleanup, now)
	s.notify(change)

	s.logger.Info("rules updated",
		"count", len(rules),
		"cleanup", int(cleanup),
	)
	return nil
}

// Remove deletes the rule for (identifier, type).
func (s *SQLiteStore) Remove(ctx context.Context, identifier string, t rule.Type) error {
	return s.AddRules(ctx, []*rule.Rule{{
		Identifier: identifier,
		Type:       t,
		State:      rule.StateRemove,
	}}, rule.CleanupNone)
}

// applyToMirror replays a committed mutation onto the in-memory mirror.
func (s *SQLiteStore) applyToMirror(rules []*rule.Rule, cleanup rule.Cleanup, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cleanup {
	case rule.CleanupAll:
		s.mirror = make(map[mirrorKey]*rule.Rule)
	case rule.CleanupNonTransitive:
		for k, r := range s.mirror {
			if r.State != rule.StateAllowTransitive {
				delete(s.mirror, k)
			}
		}
	}

	for _, r := range rules {
		identifier := rule.NormalizeIdentifier(r.Type, r.Identifier)
		k := mirrorKey{identifier, r.Type}
		if r.State == rule.StateRemove {
			delete(s.mirror, k)
			continue
		}
		stored := *r
		stored.Identifier = identifier
		stored.CreatedAt = now
		s.mirror[k] = &stored
	}
}

// OnChange registers a mutation callback.
func (s *SQLiteStore) OnChange(fn func(ChangeSet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *SQLiteStore) notify(change ChangeSet) {
	s.mu.RLock()
	listeners := make([]func(ChangeSet), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// Ping verifies the database connection, for readiness checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("ping", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return NewStoreError("close", err)
	}
	return nil
}
