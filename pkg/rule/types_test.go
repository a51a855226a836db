package rule

import (
	"strings"
	"testing"
)

var (
	testSHA256 = strings.Repeat("ab", 32)
	testCDHash = strings.Repeat("cd", 20)
)

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{
			name: "allow binary",
			rule: Rule{Identifier: testSHA256, Type: TypeBinary, State: StateAllow},
		},
		{
			name: "remove tombstone",
			rule: Rule{Identifier: testSHA256, Type: TypeBinary, State: StateRemove},
		},
		{
			name: "cel with expression",
			rule: Rule{Identifier: "EQHXZ8M8AV:com.example.app", Type: TypeCEL, State: StateCEL, CELExpression: "true"},
		},
		{
			name:    "cel state without expression",
			rule:    Rule{Identifier: "EQHXZ8M8AV:com.example.app", Type: TypeCEL, State: StateCEL},
			wantErr: true,
		},
		{
			name:    "cel expression on plain rule",
			rule:    Rule{Identifier: testSHA256, Type: TypeBinary, State: StateAllow, CELExpression: "true"},
			wantErr: true,
		},
		{
			name:    "unknown state",
			rule:    Rule{Identifier: testSHA256, Type: TypeBinary, State: "maybe"},
			wantErr: true,
		},
		{
			name:    "bad identifier",
			rule:    Rule{Identifier: "nothex", Type: TypeBinary, State: StateAllow},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRuleAllows(t *testing.T) {
	allowing := []State{StateAllow, StateAllowCompiler, StateAllowTransitive, StateAllowLocalBinary, StateAllowLocalSigningID}
	for _, s := range allowing {
		r := Rule{State: s}
		if !r.Allows() {
			t.Errorf("state %s should allow", s)
		}
	}
	denying := []State{StateBlock, StateSilentBlock, StateCEL, StateRemove}
	for _, s := range denying {
		r := Rule{State: s}
		if r.Allows() {
			t.Errorf("state %s should not allow", s)
		}
	}
}

func TestParseCleanup(t *testing.T) {
	tests := []struct {
		in      string
		want    Cleanup
		wantErr bool
	}{
		{"", CleanupNone, false},
		{"none", CleanupNone, false},
		{"all", CleanupAll, false},
		{"non_transitive", CleanupNonTransitive, false},
		{"everything", CleanupNone, true},
	}
	for _, tt := range tests {
		got, err := ParseCleanup(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCleanup(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCleanup(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCleanupString(t *testing.T) {
	for _, c := range []Cleanup{CleanupNone, CleanupAll, CleanupNonTransitive} {
		parsed, err := ParseCleanup(c.String())
		if err != nil || parsed != c {
			t.Errorf("ParseCleanup(%q) = %v, %v; want %v", c.String(), parsed, err, c)
		}
	}
}

func TestOrderWithCEL(t *testing.T) {
	def := OrderWithCEL(CELAfterSigningID)
	if def[3] != TypeCEL {
		t.Errorf("default order places CEL at %v, want position 3", def)
	}
	late := OrderWithCEL(CELAfterCertificate)
	if late[4] != TypeCEL || late[3] != TypeCertificate {
		t.Errorf("after_certificate order = %v", late)
	}

	// The returned slice must be a copy.
	def[0] = TypeTeamID
	if PrecedenceOrder[0] != TypeCDHash {
		t.Error("OrderWithCEL must not alias PrecedenceOrder")
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		ruleType   Type
		identifier string
		wantErr    bool
	}{
		{"sha256 ok", TypeBinary, testSHA256, false},
		{"sha256 short", TypeBinary, testSHA256[:40], true},
		{"sha256 uppercase", TypeBinary, strings.ToUpper(testSHA256), true},
		{"sha256 non hex", TypeBinary, strings.Repeat("zz", 32), true},
		{"cdhash ok", TypeCDHash, testCDHash, false},
		{"cdhash wrong length", TypeCDHash, testSHA256, true},
		{"certificate ok", TypeCertificate, testSHA256, false},
		{"signing id ok", TypeSigningID, "EQHXZ8M8AV:com.example.app", false},
		{"signing id platform", TypeSigningID, "platform:com.apple.ls", false},
		{"signing id no separator", TypeSigningID, "com.example.app", true},
		{"cel like signing id", TypeCEL, "EQHXZ8M8AV:com.example.app", false},
		{"team id ok", TypeTeamID, "EQHXZ8M8AV", false},
		{"team id too long", TypeTeamID, strings.Repeat("A", 65), true},
		{"empty", TypeBinary, "", true},
		{"unknown type", Type("vnode"), "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.ruleType, tt.identifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%v, %q) error = %v, wantErr %v", tt.ruleType, tt.identifier, err, tt.wantErr)
			}
		})
	}
}
