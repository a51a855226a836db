package rule

import (
	"fmt"
	"time"
)

// Type identifies what a rule's identifier refers to.
type Type string

const (
	// TypeCDHash matches the hash of a binary's code-signing directory.
	// This is the narrowest, most specific identifier.
	TypeCDHash Type = "cdhash"

	// TypeBinary matches the SHA-256 of the binary's file contents.
	TypeBinary Type = "binary"

	// TypeSigningID matches a developer-scoped signing identifier in the
	// form "<teamID-or-'platform'>:<signingID>".
	TypeSigningID Type = "signingid"

	// TypeCertificate matches the SHA-256 of the leaf signing certificate.
	TypeCertificate Type = "certificate"

	// TypeTeamID matches a developer/organization team identifier.
	TypeTeamID Type = "teamid"

	// TypeCEL matches like TypeSigningID but carries a CEL expression that
	// is evaluated against the binary identity to produce the verdict.
	TypeCEL Type = "cel"
)

// State is the policy outcome a rule encodes.
type State string

const (
	// StateAllow permits execution.
	StateAllow State = "allow"

	// StateBlock denies execution and notifies the user.
	StateBlock State = "block"

	// StateSilentBlock denies execution without user notification.
	StateSilentBlock State = "silent_block"

	// StateRemove is a tombstone instruction used during rule sync. It is
	// never a resting state; reading one back from the store is a bug.
	StateRemove State = "remove"

	// StateAllowCompiler permits execution and marks the process as a
	// trusted compiler whose outputs are transitively allowed.
	StateAllowCompiler State = "allow_compiler"

	// StateAllowTransitive permits execution of an artifact produced by a
	// trusted compiler. These rules are written by the engine itself.
	StateAllowTransitive State = "allow_transitive"

	// StateAllowLocalBinary and StateAllowLocalSigningID permit execution
	// of binaries approved locally (standalone mode approvals).
	StateAllowLocalBinary    State = "allow_local_binary"
	StateAllowLocalSigningID State = "allow_local_signingid"

	// StateCEL defers the outcome to the rule's CEL expression.
	StateCEL State = "cel"
)

// ClientMode is the agent's operating mode.
type ClientMode string

const (
	// ModeMonitor allows binaries with no matching rule and records the
	// decision. Block rules still deny.
	ModeMonitor ClientMode = "monitor"

	// ModeLockdown denies binaries with no matching rule.
	ModeLockdown ClientMode = "lockdown"

	// ModeStandalone behaves like lockdown but unmatched binaries can be
	// approved interactively by the local user.
	ModeStandalone ClientMode = "standalone"
)

// Valid reports whether the mode is one of the recognized values.
func (m ClientMode) Valid() bool {
	switch m {
	case ModeMonitor, ModeLockdown, ModeStandalone:
		return true
	}
	return false
}

// Cleanup controls what happens to existing rules before a batch insert.
type Cleanup int

const (
	// CleanupNone leaves existing rules in place.
	CleanupNone Cleanup = iota

	// CleanupAll deletes every existing rule first (clean sync).
	CleanupAll

	// CleanupNonTransitive deletes every rule except engine-written
	// allow_transitive rules, preserving compiler provenance.
	CleanupNonTransitive
)

func (c Cleanup) String() string {
	switch c {
	case CleanupNone:
		return "none"
	case CleanupAll:
		return "all"
	case CleanupNonTransitive:
		return "non_transitive"
	}
	return fmt.Sprintf("cleanup(%d)", int(c))
}

// ParseCleanup parses a cleanup mode name. The empty string means
// CleanupNone.
func ParseCleanup(s string) (Cleanup, error) {
	switch s {
	case "", "none":
		return CleanupNone, nil
	case "all":
		return CleanupAll, nil
	case "non_transitive":
		return CleanupNonTransitive, nil
	}
	return CleanupNone, fmt.Errorf("unknown cleanup mode %q", s)
}

// Rule is a single authorization rule. (Identifier, Type) is unique within
// the store. Rules are never mutated in place; an update is modeled as
// remove-then-add.
type Rule struct {
	// Identifier's meaning depends on Type (content hash, cdhash, signing
	// ID, certificate hash or team ID). Hashes are stored lowercase hex.
	Identifier string

	Type  Type
	State State

	// CustomMessage and CustomURL are shown to the user when the rule
	// blocks an execution. Optional.
	CustomMessage string
	CustomURL     string

	// Comment is an operator note carried through import/export. Optional.
	Comment string

	// CELExpression is present only when Type is TypeCEL.
	CELExpression string

	// CreatedAt is set by the store on insert.
	CreatedAt time.Time
}

// Allows reports whether the rule's state is in the allow family.
func (r *Rule) Allows() bool {
	switch r.State {
	case StateAllow, StateAllowCompiler, StateAllowTransitive,
		StateAllowLocalBinary, StateAllowLocalSigningID:
		return true
	}
	return false
}

// Validate checks the rule's identifier and state/type combination.
func (r *Rule) Validate() error {
	if err := ValidateIdentifier(r.Type, r.Identifier); err != nil {
		return err
	}
	switch r.State {
	case StateAllow, StateBlock, StateSilentBlock, StateRemove,
		StateAllowCompiler, StateAllowTransitive,
		StateAllowLocalBinary, StateAllowLocalSigningID:
	case StateCEL:
		if r.CELExpression == "" {
			return &InvalidRuleError{
				Identifier: r.Identifier,
				Type:       r.Type,
				Reason:     "cel state requires a cel expression",
			}
		}
	default:
		return &InvalidRuleError{
			Identifier: r.Identifier,
			Type:       r.Type,
			Reason:     fmt.Sprintf("unknown state %q", r.State),
		}
	}
	if r.CELExpression != "" && r.Type != TypeCEL && r.State != StateCEL {
		return &InvalidRuleError{
			Identifier: r.Identifier,
			Type:       r.Type,
			Reason:     "cel expression present on a non-cel rule",
		}
	}
	return nil
}

// PrecedenceOrder lists rule types from most to least specific. The
// evaluator consults types in this order and stops at the first type that
// has any rule for the identity, regardless of that rule's state.
//
// The CEL pass sits between signing ID and certificate by default; its
// insertion point is configurable (see CELPrecedence).
var PrecedenceOrder = []Type{
	TypeCDHash,
	TypeBinary,
	TypeSigningID,
	TypeCEL,
	TypeCertificate,
	TypeTeamID,
}

// CELPrecedence names a supported insertion point for the CEL pass.
type CELPrecedence string

const (
	// CELAfterSigningID evaluates CEL rules after signing-ID rules and
	// before certificate rules. This is the default.
	CELAfterSigningID CELPrecedence = "after_signing_id"

	// CELAfterCertificate evaluates CEL rules after certificate rules and
	// before team-ID rules.
	CELAfterCertificate CELPrecedence = "after_certificate"
)

// OrderWithCEL returns the precedence order with the CEL pass placed at the
// given insertion point. An unrecognized value falls back to the default
// ordering.
func OrderWithCEL(p CELPrecedence) []Type {
	switch p {
	case CELAfterCertificate:
		return []Type{TypeCDHash, TypeBinary, TypeSigningID, TypeCertificate, TypeCEL, TypeTeamID}
	default:
		order := make([]Type, len(PrecedenceOrder))
		copy(order, PrecedenceOrder)
		return order
	}
}
