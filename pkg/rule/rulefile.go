package rule

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// The rule-file format is a stable JSON document used for import, export and
// remote sync payloads:
//
//	{"rules": [{"policy": "ALLOWLIST", "rule_type": "BINARY",
//	            "identifier": "...", "custom_msg": "...", ...}]}
//
// Export reproduces every active rule; importing an export into an empty
// store yields a rule set producing identical verdicts. States that only the
// engine can create (allow_transitive, local approvals) export as ALLOWLIST,
// which is verdict-equivalent.

// FileRule is the wire form of a single rule in a rule file.
type FileRule struct {
	Policy     string `json:"policy"`
	RuleType   string `json:"rule_type"`
	Identifier string `json:"identifier"`
	CustomMsg  string `json:"custom_msg,omitempty"`
	CustomURL  string `json:"custom_url,omitempty"`
	Comment    string `json:"comment,omitempty"`
	CELExpr    string `json:"cel_expr,omitempty"`
}

// File is the top-level rule-file document.
type File struct {
	Rules []FileRule `json:"rules"`
}

var policyToState = map[string]State{
	"ALLOWLIST":          StateAllow,
	"BLOCKLIST":          StateBlock,
	"SILENT_BLOCKLIST":   StateSilentBlock,
	"ALLOWLIST_COMPILER": StateAllowCompiler,
	"CEL":                StateCEL,

	// REMOVE appears in sync payloads only; exports never contain it.
	"REMOVE": StateRemove,
}

var fileTypeToType = map[string]Type{
	"BINARY":      TypeBinary,
	"CERTIFICATE": TypeCertificate,
	"TEAMID":      TypeTeamID,
	"SIGNINGID":   TypeSigningID,
	"CDHASH":      TypeCDHash,
}

// ToRule converts a wire rule into the internal representation, validating
// it in the process.
func (fr *FileRule) ToRule() (*Rule, error) {
	state, ok := policyToState[strings.ToUpper(fr.Policy)]
	if !ok {
		return nil, &InvalidRuleError{
			Identifier: fr.Identifier,
			Reason:     fmt.Sprintf("unknown policy %q", fr.Policy),
		}
	}
	t, ok := fileTypeToType[strings.ToUpper(fr.RuleType)]
	if !ok {
		return nil, &InvalidRuleError{
			Identifier: fr.Identifier,
			Reason:     fmt.Sprintf("unknown rule type %q", fr.RuleType),
		}
	}
	if state == StateCEL {
		t = TypeCEL
	}
	r := &Rule{
		Identifier:    NormalizeIdentifier(t, fr.Identifier),
		Type:          t,
		State:         state,
		CustomMessage: fr.CustomMsg,
		CustomURL:     fr.CustomURL,
		Comment:       fr.Comment,
		CELExpression: fr.CELExpr,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// FromRule converts an internal rule into its wire form.
func FromRule(r *Rule) FileRule {
	fr := FileRule{
		Identifier: r.Identifier,
		CustomMsg:  r.CustomMessage,
		CustomURL:  r.CustomURL,
		Comment:    r.Comment,
		CELExpr:    r.CELExpression,
	}
	switch r.Type {
	case TypeBinary:
		fr.RuleType = "BINARY"
	case TypeCertificate:
		fr.RuleType = "CERTIFICATE"
	case TypeTeamID:
		fr.RuleType = "TEAMID"
	case TypeSigningID:
		fr.RuleType = "SIGNINGID"
	case TypeCDHash:
		fr.RuleType = "CDHASH"
	case TypeCEL:
		fr.RuleType = "SIGNINGID"
	}
	switch r.State {
	case StateBlock:
		fr.Policy = "BLOCKLIST"
	case StateSilentBlock:
		fr.Policy = "SILENT_BLOCKLIST"
	case StateAllowCompiler:
		fr.Policy = "ALLOWLIST_COMPILER"
	case StateCEL:
		fr.Policy = "CEL"
	default:
		// Allow, transitive and local approvals are all verdict-equivalent
		// to a plain allow on re-import.
		fr.Policy = "ALLOWLIST"
	}
	return fr
}

// ParseFile decodes a rule file and converts every entry, failing on the
// first invalid rule.
func ParseFile(r io.Reader) ([]*Rule, error) {
	var f File
	dec := json.NewDecoder(r)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	rules := make([]*Rule, 0, len(f.Rules))
	for i := range f.Rules {
		converted, err := f.Rules[i].ToRule()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, converted)
	}
	return rules, nil
}

// WriteFile encodes rules as a rule-file document.
func WriteFile(w io.Writer, rules []*Rule) error {
	f := File{Rules: make([]FileRule, 0, len(rules))}
	for _, r := range rules {
		f.Rules = append(f.Rules, FromRule(r))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&f); err != nil {
		return fmt.Errorf("failed to write rule file: %w", err)
	}
	return nil
}

// NormalizeIdentifier lowercases hash identifiers so lookups are
// case-insensitive for hex digests. Signing and team identifiers are
// case-sensitive and left untouched.
func NormalizeIdentifier(t Type, identifier string) string {
	switch t {
	case TypeCDHash, TypeBinary, TypeCertificate:
		return strings.ToLower(identifier)
	}
	return identifier
}
