package authz_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"clearpath-hq/gatekeeper/internal/authztest"
	"clearpath-hq/gatekeeper/pkg/authz"
	"clearpath-hq/gatekeeper/pkg/rule"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEvaluator(t *testing.T, s *authztest.MemoryStore) *authz.Evaluator {
	t.Helper()
	e, err := authz.NewEvaluator(s, nil, testLogger())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func mustAdd(t *testing.T, s *authztest.MemoryStore, rules ...*rule.Rule) {
	t.Helper()
	if err := s.AddRules(context.Background(), rules, rule.CleanupNone); err != nil {
		t.Fatalf("AddRules: %v", err)
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	id := authztest.Identity(1, 1, "/opt/app")

	tests := []struct {
		name    string
		rules   []*rule.Rule
		verdict authz.Verdict
		reason  authz.Reason
	}{
		{
			name: "cdhash allow beats binary block",
			rules: []*rule.Rule{
				authztest.AllowRule(rule.TypeCDHash, id.CodeDirectoryHash),
				authztest.BlockRule(rule.TypeBinary, id.ContentHash),
			},
			verdict: authz.VerdictAllow,
			reason:  authz.ReasonCDHash,
		},
		{
			name: "cdhash block beats binary allow",
			rules: []*rule.Rule{
				authztest.BlockRule(rule.TypeCDHash, id.CodeDirectoryHash),
				authztest.AllowRule(rule.TypeBinary, id.ContentHash),
			},
			verdict: authz.VerdictDeny,
			reason:  authz.ReasonCDHash,
		},
		{
			name: "binary block beats team allow",
			rules: []*rule.Rule{
				authztest.BlockRule(rule.TypeBinary, id.ContentHash),
				authztest.AllowRule(rule.TypeTeamID, id.TeamID),
			},
			verdict: authz.VerdictDeny,
			reason:  authz.ReasonBinary,
		},
		{
			name: "signing id beats certificate",
			rules: []*rule.Rule{
				authztest.BlockRule(rule.TypeSigningID, id.FullSigningID()),
				authztest.AllowRule(rule.TypeCertificate, id.CertificateHash),
			},
			verdict: authz.VerdictDeny,
			reason:  authz.ReasonSigningID,
		},
		{
			name: "certificate beats team id",
			rules: []*rule.Rule{
				authztest.AllowRule(rule.TypeCertificate, id.CertificateHash),
				authztest.BlockRule(rule.TypeTeamID, id.TeamID),
			},
			verdict: authz.VerdictAllow,
			reason:  authz.ReasonCertificate,
		},
		{
			name: "team id matches when nothing narrower",
			rules: []*rule.Rule{
				authztest.AllowRule(rule.TypeTeamID, id.TeamID),
			},
			verdict: authz.VerdictAllow,
			reason:  authz.ReasonTeamID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := authztest.NewMemoryStore()
			mustAdd(t, s, tt.rules...)

			d := newEvaluator(t, s).Evaluate(context.Background(), &id, authz.DefaultConfig())
			if d.Verdict != tt.verdict {
				t.Errorf("verdict = %v, want %v", d.Verdict, tt.verdict)
			}
			if d.Reason != tt.reason {
				t.Errorf("reason = %v, want %v", d.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluateStopsAtFirstMatchingLevel(t *testing.T) {
	id := authztest.Identity(1, 2, "/opt/app")
	s := authztest.NewMemoryStore()
	mustAdd(t, s,
		authztest.BlockRule(rule.TypeCDHash, id.CodeDirectoryHash),
		authztest.AllowRule(rule.TypeTeamID, id.TeamID),
	)

	newEvaluator(t, s).Evaluate(context.Background(), &id, authz.DefaultConfig())

	// The cdhash match at the most specific level ends the walk; wider
	// levels are never consulted.
	if got := s.LookupCalls(); got != 1 {
		t.Errorf("store lookups = %d, want 1", got)
	}
}

func TestEvaluateModeDefaults(t *testing.T) {
	id := authztest.UnsignedIdentity(1, 2, "/opt/unknown")
	s := authztest.NewMemoryStore()
	e := newEvaluator(t, s)

	tests := []struct {
		mode    rule.ClientMode
		verdict authz.Verdict
	}{
		{rule.ModeMonitor, authz.VerdictAllow},
		{rule.ModeLockdown, authz.VerdictDeny},
		{rule.ModeStandalone, authz.VerdictDeny},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cfg := authz.DefaultConfig()
			cfg.Mode = tt.mode
			d := e.Evaluate(context.Background(), &id, cfg)
			if d.Verdict != tt.verdict {
				t.Errorf("verdict = %v, want %v", d.Verdict, tt.verdict)
			}
			if d.Reason != authz.ReasonUnmatched {
				t.Errorf("reason = %v, want unmatched", d.Reason)
			}
		})
	}
}

func TestEvaluatePlatformBinary(t *testing.T) {
	id := authztest.PlatformIdentity(1, 3, "/usr/bin/ls")
	s := authztest.NewMemoryStore()
	e := newEvaluator(t, s)

	cfg := authz.DefaultConfig()
	cfg.Mode = rule.ModeLockdown

	d := e.Evaluate(context.Background(), &id, cfg)
	if d.Verdict != authz.VerdictAllow || d.Reason != authz.ReasonPlatformBinary {
		t.Fatalf("decision = %+v, want platform allow even in lockdown", d)
	}

	cfg.AllowPlatformBinaries = false
	d = e.Evaluate(context.Background(), &id, cfg)
	if d.Verdict != authz.VerdictDeny {
		t.Fatalf("verdict = %v, want deny with platform allow disabled", d.Verdict)
	}

	// An explicit block on a platform binary still wins.
	cfg.AllowPlatformBinaries = true
	mustAdd(t, s, authztest.BlockRule(rule.TypeBinary, id.ContentHash))
	d = e.Evaluate(context.Background(), &id, cfg)
	if d.Verdict != authz.VerdictDeny {
		t.Fatalf("verdict = %v, want deny from explicit rule", d.Verdict)
	}
}

func TestEvaluateSilentBlock(t *testing.T) {
	id := authztest.Identity(1, 4, "/opt/quiet")
	s := authztest.NewMemoryStore()
	mustAdd(t, s, &rule.Rule{
		Identifier: id.ContentHash,
		Type:       rule.TypeBinary,
		State:      rule.StateSilentBlock,
	})

	d := newEvaluator(t, s).Evaluate(context.Background(), &id, authz.DefaultConfig())
	if d.Verdict != authz.VerdictDeny {
		t.Fatalf("verdict = %v, want deny", d.Verdict)
	}
	if d.Notify {
		t.Error("silent block must not notify")
	}
}

func TestEvaluateCustomMessage(t *testing.T) {
	id := authztest.Identity(1, 5, "/opt/msg")
	s := authztest.NewMemoryStore()
	mustAdd(t, s, &rule.Rule{
		Identifier:    id.ContentHash,
		Type:          rule.TypeBinary,
		State:         rule.StateBlock,
		CustomMessage: "talk to IT",
		CustomURL:     "https://it.example.com",
	})

	d := newEvaluator(t, s).Evaluate(context.Background(), &id, authz.DefaultConfig())
	if d.Message != "talk to IT" || d.URL != "https://it.example.com" {
		t.Errorf("decision = %+v, want custom message and URL", d)
	}
	if !d.Notify {
		t.Error("block should notify")
	}
}

func TestEvaluateCompilerRule(t *testing.T) {
	id := authztest.Identity(1, 6, "/usr/bin/cc")
	s := authztest.NewMemoryStore()
	mustAdd(t, s, &rule.Rule{
		Identifier: id.ContentHash,
		Type:       rule.TypeBinary,
		State:      rule.StateAllowCompiler,
	})

	d := newEvaluator(t, s).Evaluate(context.Background(), &id, authz.DefaultConfig())
	if d.Verdict != authz.VerdictAllowCompiler {
		t.Fatalf("verdict = %v, want allow_compiler", d.Verdict)
	}
}

func TestEvaluateCEL(t *testing.T) {
	id := authztest.Identity(1, 7, "/opt/cel")

	tests := []struct {
		name    string
		expr    string
		verdict authz.Verdict
	}{
		{"bool allow", `target.team_id == "EQHXZ8M8AV"`, authz.VerdictAllow},
		{"bool deny", `target.team_id == "SOMEONEELSE"`, authz.VerdictDeny},
		{"string allow", `target.is_platform_binary ? "BLOCKLIST" : "ALLOWLIST"`, authz.VerdictAllow},
		{"unparseable fails closed", `target.team_id ==`, authz.VerdictDeny},
		{"wrong result type fails closed", `42`, authz.VerdictDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := authztest.NewMemoryStore()
			mustAdd(t, s, &rule.Rule{
				Identifier:    id.FullSigningID(),
				Type:          rule.TypeCEL,
				State:         rule.StateCEL,
				CELExpression: tt.expr,
			})

			d := newEvaluator(t, s).Evaluate(context.Background(), &id, authz.DefaultConfig())
			if d.Verdict != tt.verdict {
				t.Errorf("verdict = %v, want %v", d.Verdict, tt.verdict)
			}
			if d.Reason != authz.ReasonCEL {
				t.Errorf("reason = %v, want cel", d.Reason)
			}
		})
	}
}

func TestEvaluateCELPrecedencePlacement(t *testing.T) {
	id := authztest.Identity(1, 8, "/opt/celorder")

	s := authztest.NewMemoryStore()
	mustAdd(t, s,
		&rule.Rule{
			Identifier:    id.FullSigningID(),
			Type:          rule.TypeCEL,
			State:         rule.StateCEL,
			CELExpression: `false`,
		},
		authztest.AllowRule(rule.TypeCertificate, id.CertificateHash),
	)
	e := newEvaluator(t, s)

	// Default placement: CEL before certificate, so the CEL deny wins.
	d := e.Evaluate(context.Background(), &id, authz.DefaultConfig())
	if d.Verdict != authz.VerdictDeny || d.Reason != authz.ReasonCEL {
		t.Fatalf("decision = %+v, want CEL deny at default placement", d)
	}

	// CEL after certificate: the certificate allow wins.
	cfg := authz.DefaultConfig()
	cfg.CELPrecedence = rule.CELAfterCertificate
	d = e.Evaluate(context.Background(), &id, cfg)
	if d.Verdict != authz.VerdictAllow || d.Reason != authz.ReasonCertificate {
		t.Fatalf("decision = %+v, want certificate allow with CEL demoted", d)
	}
}

type staticPending bool

func (s staticPending) PendingFor(*rule.BinaryIdentity) bool { return bool(s) }

func TestEvaluateTransitivePendingHold(t *testing.T) {
	id := authztest.UnsignedIdentity(1, 9, "/home/dev/a.out")
	s := authztest.NewMemoryStore()

	e, err := authz.NewEvaluator(s, staticPending(true), testLogger())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	cfg := authz.DefaultConfig()
	cfg.Mode = rule.ModeLockdown
	d := e.Evaluate(context.Background(), &id, cfg)
	if d.Verdict != authz.VerdictHold || d.Reason != authz.ReasonTransitivePending {
		t.Fatalf("decision = %+v, want hold for pending artifact", d)
	}

	// A matching rule still beats the pending check.
	mustAdd(t, s, authztest.BlockRule(rule.TypeBinary, id.ContentHash))
	d = e.Evaluate(context.Background(), &id, cfg)
	if d.Verdict != authz.VerdictDeny || d.Reason != authz.ReasonBinary {
		t.Fatalf("decision = %+v, want rule deny over hold", d)
	}
}

func TestEvaluateUnsignedIdentitySkipsSignatureLevels(t *testing.T) {
	id := authztest.UnsignedIdentity(1, 10, "/opt/raw")
	s := authztest.NewMemoryStore()
	// Rules at levels the identity has no identifier for must not match.
	mustAdd(t, s,
		authztest.BlockRule(rule.TypeTeamID, "EQHXZ8M8AV"),
		authztest.BlockRule(rule.TypeSigningID, "EQHXZ8M8AV:com.example.app"),
	)

	d := newEvaluator(t, s).Evaluate(context.Background(), &id, authz.DefaultConfig())
	if d.Verdict != authz.VerdictAllow || d.Reason != authz.ReasonUnmatched {
		t.Fatalf("decision = %+v, want monitor default", d)
	}
}
