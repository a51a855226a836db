package authz

import (
	"fmt"
	"time"
)

// CELError reports a CEL expression that failed to compile or evaluate.
// The evaluator treats it as a deny (fail closed).
type CELError struct {
	RuleIdentifier string
	Expression     string
	Cause          error
}

// Error implements the error interface.
func (e *CELError) Error() string {
	return fmt.Sprintf("cel error [rule=%s]: %v", e.RuleIdentifier, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *CELError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports that a caller's bounded wait on a shared evaluation
// expired. It is resolved by the per-mode fallback and never surfaced to
// the kernel event source as a failure.
type TimeoutError struct {
	RequestID string
	Waited    time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("evaluation wait timed out [request=%s] after %s", e.RequestID, e.Waited)
}

// CacheCorruptionError reports a violated generation invariant. The cache
// flushes itself as a self-healing measure when this is detected.
type CacheCorruptionError struct {
	VnodeKey string
	Expected uint64
	Observed uint64
}

// Error implements the error interface.
func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("cache generation invariant violated [vnode=%s]: expected >= %d, observed %d",
		e.VnodeKey, e.Expected, e.Observed)
}
