package store

import (
	"fmt"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// StoreError represents a failure in the durable layer. The in-memory
// mirror remains authoritative for lookups when the database is
// unavailable.
type StoreError struct {
	Operation string // Operation that failed ("open", "insert", "delete", ...)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("rule store error [operation=%s]: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError.
func NewStoreError(operation string, cause error) *StoreError {
	return &StoreError{Operation: operation, Cause: cause}
}

// DuplicateRuleError is reported when a rule with the same (identifier,
// type) is re-added with a conflicting state. The write still succeeds
// (last writer wins); the error is informational for logging.
type DuplicateRuleError struct {
	Identifier string
	Type       rule.Type
	OldState   rule.State
	NewState   rule.State
}

// Error implements the error interface.
func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("duplicate rule [identifier=%s, type=%s]: state %s replaced by %s",
		e.Identifier, e.Type, e.OldState, e.NewState)
}
