package rule

import (
	"fmt"
)

// InvalidIdentifierError reports a malformed rule identifier (wrong hash
// length, non-hex characters, missing signing-ID separator).
type InvalidIdentifierError struct {
	Identifier string
	Type       Type
	Reason     string
}

// Error implements the error interface.
func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s identifier %q: %s", e.Type, e.Identifier, e.Reason)
}

// InvalidRuleError reports a rule whose fields are inconsistent (unknown
// state, missing CEL expression, expression on a non-CEL rule).
type InvalidRuleError struct {
	Identifier string
	Type       Type
	Reason     string
}

// Error implements the error interface.
func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule [identifier=%s, type=%s]: %s", e.Identifier, e.Type, e.Reason)
}

// sha256HexLen is the length of a lowercase hex SHA-256 digest.
const sha256HexLen = 64

// cdhashHexLen is the length of a hex CDHash (SHA-1 sized digest).
const cdhashHexLen = 40

// ValidateIdentifier checks that identifier is well formed for the given
// rule type. Hash identifiers must be lowercase hex of the expected length;
// signing-ID identifiers must contain the "<team>:<signingID>" separator.
func ValidateIdentifier(t Type, identifier string) error {
	if identifier == "" {
		return &InvalidIdentifierError{Identifier: identifier, Type: t, Reason: "empty"}
	}
	switch t {
	case TypeCDHash:
		return validateHex(t, identifier, cdhashHexLen)
	case TypeBinary, TypeCertificate:
		return validateHex(t, identifier, sha256HexLen)
	case TypeSigningID, TypeCEL:
		if !hasSigningIDSeparator(identifier) {
			return &InvalidIdentifierError{
				Identifier: identifier,
				Type:       t,
				Reason:     "expected <teamID-or-'platform'>:<signingID>",
			}
		}
	case TypeTeamID:
		// Team IDs are issuer-assigned alphanumeric strings; length is the
		// only property stable enough to check.
		if len(identifier) > 64 {
			return &InvalidIdentifierError{Identifier: identifier, Type: t, Reason: "too long"}
		}
	default:
		return &InvalidIdentifierError{Identifier: identifier, Type: t, Reason: "unknown rule type"}
	}
	return nil
}

func validateHex(t Type, identifier string, wantLen int) error {
	if len(identifier) != wantLen {
		return &InvalidIdentifierError{
			Identifier: identifier,
			Type:       t,
			Reason:     fmt.Sprintf("expected %d hex characters, got %d", wantLen, len(identifier)),
		}
	}
	for _, c := range identifier {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return &InvalidIdentifierError{
				Identifier: identifier,
				Type:       t,
				Reason:     "expected lowercase hex",
			}
		}
	}
	return nil
}

func hasSigningIDSeparator(identifier string) bool {
	for i, c := range identifier {
		if c == ':' {
			return i > 0 && i < len(identifier)-1
		}
	}
	return false
}
