package store

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the rule database schema.
const Schema = `
-- Authorization rules table. (identifier, type) is the natural key; rules
-- are never updated in place, an update is a delete followed by an insert.
CREATE TABLE IF NOT EXISTS rules (
    identifier TEXT NOT NULL,
    type TEXT NOT NULL,
    state TEXT NOT NULL,
    custom_message TEXT NOT NULL DEFAULT '',
    custom_url TEXT NOT NULL DEFAULT '',
    comment TEXT NOT NULL DEFAULT '',
    cel_expression TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,

    PRIMARY KEY (identifier, type)
);

CREATE INDEX IF NOT EXISTS idx_rules_type ON rules(type);
CREATE INDEX IF NOT EXISTS idx_rules_state ON rules(state);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`
