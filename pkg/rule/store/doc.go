// Package store provides the durable rule store: a SQLite table of rules
// keyed by (identifier, type), fully mirrored in memory so hot-path lookups
// never touch the database. Writes go through SQLite first and then update
// the mirror, so the mirror is the last known good state even if the
// database later becomes unavailable.
//
// Mutations are administrative-rate (rule sync, manual add/remove) and use a
// single writer lock; lookups take a read lock on the mirror.
package store
