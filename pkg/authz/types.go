package authz

import (
	"time"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// Verdict is the engine's answer to an execution-authorization request.
type Verdict int

const (
	// VerdictUnset means no information yet.
	VerdictUnset Verdict = iota

	// VerdictRequestPending means an evaluation for this binary is in
	// flight; callers observing it wait for the shared result.
	VerdictRequestPending

	// VerdictAllow permits the execution and is cached.
	VerdictAllow

	// VerdictAllowNoCache permits the execution but is not memoized; used
	// for decisions that must not be reused.
	VerdictAllowNoCache

	// VerdictDeny blocks the execution.
	VerdictDeny

	// VerdictAllowCompiler permits the execution and marks the process as
	// a trusted compiler for transitive tracking.
	VerdictAllowCompiler

	// VerdictHold tells the caller the decision is deferred; additional
	// requests for the same identity wait for the hold to resolve.
	VerdictHold

	// VerdictHoldAllowed and VerdictHoldDenied are the terminal
	// resolutions of a held request.
	VerdictHoldAllowed
	VerdictHoldDenied
)

// String returns the verdict name used in logs, metrics and the control API.
func (v Verdict) String() string {
	switch v {
	case VerdictUnset:
		return "unset"
	case VerdictRequestPending:
		return "request_pending"
	case VerdictAllow:
		return "allow"
	case VerdictAllowNoCache:
		return "allow_no_cache"
	case VerdictDeny:
		return "deny"
	case VerdictAllowCompiler:
		return "allow_compiler"
	case VerdictHold:
		return "hold"
	case VerdictHoldAllowed:
		return "hold_allowed"
	case VerdictHoldDenied:
		return "hold_denied"
	}
	return "unknown"
}

// Terminal reports whether the verdict is a final answer for the caller.
func (v Verdict) Terminal() bool {
	switch v {
	case VerdictAllow, VerdictAllowNoCache, VerdictDeny,
		VerdictAllowCompiler, VerdictHoldAllowed, VerdictHoldDenied:
		return true
	}
	return false
}

// Allows reports whether the verdict permits the execution.
func (v Verdict) Allows() bool {
	switch v {
	case VerdictAllow, VerdictAllowNoCache, VerdictAllowCompiler, VerdictHoldAllowed:
		return true
	}
	return false
}

// Reason records what produced a verdict, orthogonally to the verdict
// itself.
type Reason string

const (
	// ReasonCriticalSystem is the fail-safe override for binaries the OS
	// cannot function without.
	ReasonCriticalSystem Reason = "critical_system"

	// Rule-match reasons, one per precedence level.
	ReasonCDHash      Reason = "cdhash"
	ReasonBinary      Reason = "binary"
	ReasonSigningID   Reason = "signing_id"
	ReasonCEL         Reason = "cel"
	ReasonCertificate Reason = "certificate"
	ReasonTeamID      Reason = "team_id"

	// ReasonTransitive marks artifacts trusted through compiler
	// provenance; ReasonTransitivePending marks artifacts whose compiler
	// is still running.
	ReasonTransitive        Reason = "transitive"
	ReasonTransitivePending Reason = "transitive_pending"

	// ReasonPlatformBinary is the implicit allow for OS-vendor-signed
	// binaries with no matching rule.
	ReasonPlatformBinary Reason = "platform_binary"

	// ReasonUnmatched is the mode-dependent default for binaries with no
	// matching rule.
	ReasonUnmatched Reason = "unmatched"

	// ReasonTimeoutFallback and ReasonErrorFallback mark verdicts produced
	// by the per-mode fallback policy rather than evaluation.
	ReasonTimeoutFallback Reason = "timeout_fallback"
	ReasonErrorFallback   Reason = "error_fallback"
)

// Decision is a verdict plus the context that produced it.
type Decision struct {
	Verdict Verdict
	Reason  Reason

	// RuleType and RuleIdentifier name the matched rule, when Reason is a
	// rule-match reason.
	RuleType       rule.Type
	RuleIdentifier string

	// Message and URL come from the matched rule's custom fields and are
	// surfaced to the user on a block.
	Message string
	URL     string

	// Notify is false for silent blocks: the external notifier must not
	// show the user anything.
	Notify bool

	// Cached is true when the decision was served from the cache.
	Cached bool

	// Ephemeral decisions (fallbacks, AllowNoCache) are never stored.
	Ephemeral bool
}

// Request is one execution-authorization request.
type Request struct {
	// ID correlates the request across logs and event records. Assigned
	// by the controller when empty.
	ID string

	// Identity carries the binary's identity facts, computed by the
	// external signature-extraction collaborator.
	Identity rule.BinaryIdentity

	// PID is the executing process, used for compiler tracking.
	PID int
}

// Config is the immutable per-call configuration snapshot handed to the
// controller. It is refreshed atomically by the configuration watcher; the
// engine itself holds no mutable global state.
type Config struct {
	// Mode is the operating mode applied to this request.
	Mode rule.ClientMode

	// WaiterTimeout bounds how long a caller waits on another caller's
	// in-flight evaluation or on a held decision before the per-mode
	// fallback applies. The in-flight work itself is never cancelled.
	WaiterTimeout time.Duration

	// AllowPlatformBinaries allows OS-vendor-signed binaries that match
	// no rule, in every mode.
	AllowPlatformBinaries bool

	// CELPrecedence is the insertion point of the CEL pass in the
	// precedence order.
	CELPrecedence rule.CELPrecedence
}

// DefaultConfig returns the engine defaults: monitor mode, 5s waiter
// timeout, platform binaries allowed, CEL after signing ID.
func DefaultConfig() Config {
	return Config{
		Mode:                  rule.ModeMonitor,
		WaiterTimeout:         5 * time.Second,
		AllowPlatformBinaries: true,
		CELPrecedence:         rule.CELAfterSigningID,
	}
}

// fallbackDecision is the per-mode fallback policy: monitor allows (and the
// caller logs), lockdown and standalone deny. Fallback decisions are
// ephemeral so a transient failure never poisons the cache.
func fallbackDecision(mode rule.ClientMode, reason Reason) Decision {
	if mode == rule.ModeMonitor {
		return Decision{
			Verdict:   VerdictAllowNoCache,
			Reason:    reason,
			Notify:    false,
			Ephemeral: true,
		}
	}
	return Decision{
		Verdict:   VerdictDeny,
		Reason:    reason,
		Notify:    true,
		Ephemeral: true,
	}
}
