package control

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"clearpath-hq/gatekeeper/pkg/authz"
	"clearpath-hq/gatekeeper/pkg/config"
	"clearpath-hq/gatekeeper/pkg/rule"
	"clearpath-hq/gatekeeper/pkg/rule/store"
	"clearpath-hq/gatekeeper/pkg/telemetry/health"
)

func newTestServer(t *testing.T) (*Server, store.Store, *authz.Cache) {
	t.Helper()

	cfg := store.DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "rules.db")
	rules, err := store.NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("creating rule store: %v", err)
	}
	t.Cleanup(func() { rules.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := authz.NewCache(logger)

	srv := NewServer(config.ControlConfig{}, Dependencies{
		Cache:    cache,
		Rules:    rules,
		Checker:  health.New(0),
		Snapshot: func() authz.Config { return authz.DefaultConfig() },
		Version:  "test",
		Logger:   logger,
	})
	return srv, rules, cache
}

func newTestClient(t *testing.T, srv *Server) *Client {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(strings.TrimPrefix(ts.URL, "http://"))
}

func TestAddRulesAndLookup(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	sha := strings.Repeat("ab", 32)
	added, err := client.AddRules(ctx, AddRulesRequest{
		Rules: []rule.FileRule{
			{Policy: "BLOCKLIST", RuleType: "BINARY", Identifier: sha},
			{Policy: "ALLOWLIST", RuleType: "TEAMID", Identifier: "EQHXZ8M8AV"},
		},
	})
	if err != nil {
		t.Fatalf("AddRules: %v", err)
	}
	if added.Applied != 2 {
		t.Fatalf("applied = %d, want 2", added.Applied)
	}

	resp, err := client.LookupRule(ctx, LookupRequest{BinarySHA256: sha})
	if err != nil {
		t.Fatalf("LookupRule: %v", err)
	}
	if !resp.Found {
		t.Fatal("rule not found after add")
	}
	if resp.Rule.Policy != "BLOCKLIST" || resp.Rule.Identifier != sha {
		t.Errorf("unexpected rule: %+v", resp.Rule)
	}

	counts, err := client.RuleCounts(ctx)
	if err != nil {
		t.Fatalf("RuleCounts: %v", err)
	}
	if counts.Binary != 1 || counts.TeamID != 1 {
		t.Errorf("counts = %+v, want binary=1 teamid=1", counts)
	}
}

func TestLookupPrecedence(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	sha := strings.Repeat("11", 32)
	_, err := client.AddRules(ctx, AddRulesRequest{
		Rules: []rule.FileRule{
			{Policy: "ALLOWLIST", RuleType: "BINARY", Identifier: sha},
			{Policy: "BLOCKLIST", RuleType: "TEAMID", Identifier: "EQHXZ8M8AV"},
		},
	})
	if err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	// Both identifiers supplied: the binary rule wins.
	resp, err := client.LookupRule(ctx, LookupRequest{
		BinarySHA256: sha,
		TeamID:       "EQHXZ8M8AV",
	})
	if err != nil {
		t.Fatalf("LookupRule: %v", err)
	}
	if !resp.Found || resp.Rule.RuleType != "BINARY" {
		t.Fatalf("lookup returned %+v, want binary rule", resp.Rule)
	}
}

func TestLookupNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := newTestClient(t, srv)

	resp, err := client.LookupRule(context.Background(), LookupRequest{
		BinarySHA256: strings.Repeat("ff", 32),
	})
	if err != nil {
		t.Fatalf("LookupRule: %v", err)
	}
	if resp.Found {
		t.Fatal("found a rule in an empty store")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	srv, rules, _ := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	sha := strings.Repeat("cd", 32)
	_, err := client.AddRules(ctx, AddRulesRequest{
		Rules: []rule.FileRule{
			{Policy: "ALLOWLIST", RuleType: "BINARY", Identifier: sha, CustomMsg: "build tool"},
			{Policy: "SILENT_BLOCKLIST", RuleType: "SIGNINGID", Identifier: "EQHXZ8M8AV:com.example.tool"},
		},
	})
	if err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	var exported bytes.Buffer
	if err := client.ExportRules(ctx, &exported); err != nil {
		t.Fatalf("ExportRules: %v", err)
	}

	// Import onto a clean slate and compare with the live store.
	imported, err := client.ImportRules(ctx, bytes.NewReader(exported.Bytes()), rule.CleanupAll)
	if err != nil {
		t.Fatalf("ImportRules: %v", err)
	}
	if imported.Applied != 2 {
		t.Fatalf("applied = %d, want 2", imported.Applied)
	}
	if got := rules.Lookup(sha, rule.TypeBinary); got == nil || got.CustomMessage != "build tool" {
		t.Fatalf("binary rule lost in round trip: %+v", got)
	}
	if got := rules.Lookup("EQHXZ8M8AV:com.example.tool", rule.TypeSigningID); got == nil || got.State != rule.StateSilentBlock {
		t.Fatalf("signing ID rule lost in round trip: %+v", got)
	}
}

func TestAddRulesRejectsBadCleanup(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := newTestClient(t, srv)

	_, err := client.AddRules(context.Background(), AddRulesRequest{Cleanup: "bogus"})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 400 {
		t.Errorf("status = %d, want 400", apiErr.StatusCode)
	}
}

func TestCacheCheckAndFlush(t *testing.T) {
	srv, _, cache := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	key := rule.VnodeKey{Device: 3, Inode: 77}
	leader, pending := cache.BeginEvaluation(key, rule.BinaryIdentity{VnodeKey: key})
	if !leader {
		t.Fatal("expected to lead evaluation on an empty cache")
	}
	if err := cache.Commit(key, authz.Decision{
		Verdict:        authz.VerdictDeny,
		Reason:         authz.ReasonBinary,
		RuleType:       rule.TypeBinary,
		RuleIdentifier: strings.Repeat("ee", 32),
	}, pending); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	resp, err := client.CheckCache(ctx, 3, 77)
	if err != nil {
		t.Fatalf("CheckCache: %v", err)
	}
	if !resp.Found || resp.Verdict != "deny" || resp.Reason != "binary" {
		t.Fatalf("check = %+v, want cached deny", resp)
	}

	miss, err := client.CheckCache(ctx, 3, 78)
	if err != nil {
		t.Fatalf("CheckCache: %v", err)
	}
	if miss.Found {
		t.Fatal("found an entry for an unknown vnode")
	}

	flushed, err := client.FlushCache(ctx)
	if err != nil {
		t.Fatalf("FlushCache: %v", err)
	}
	if flushed.Flushed != 1 {
		t.Errorf("flushed = %d, want 1", flushed.Flushed)
	}
	if cache.Size() != 0 {
		t.Errorf("cache size = %d after flush, want 0", cache.Size())
	}
}

func newTestEngine(t *testing.T) (*Server, store.Store) {
	t.Helper()

	cfg := store.DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "rules.db")
	rules, err := store.NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("creating rule store: %v", err)
	}
	t.Cleanup(func() { rules.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := authz.NewCache(logger)
	tracker := authz.NewTracker(rules, cache, logger)
	evaluator, err := authz.NewEvaluator(rules, tracker, logger)
	if err != nil {
		t.Fatalf("creating evaluator: %v", err)
	}
	authz.BindStoreInvalidation(rules, cache, logger)

	controller := authz.NewController(cache, evaluator,
		authz.DefaultConfig, logger, authz.WithTracker(tracker))

	srv := NewServer(config.ControlConfig{}, Dependencies{
		Controller: controller,
		Tracker:    tracker,
		Cache:      cache,
		Rules:      rules,
		Checker:    health.New(0),
		Snapshot:   authz.DefaultConfig,
		Version:    "test",
		Logger:     logger,
	})
	return srv, rules
}

func TestAuthorizeEndToEnd(t *testing.T) {
	srv, _ := newTestEngine(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	blockedSHA := strings.Repeat("0a", 32)
	_, err := client.AddRules(ctx, AddRulesRequest{
		Rules: []rule.FileRule{
			{Policy: "BLOCKLIST", RuleType: "BINARY", Identifier: blockedSHA, CustomMsg: "not on this host"},
		},
	})
	if err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	req := AuthorizeRequest{
		Device: 1, Inode: 100,
		Path:   "/opt/tools/blocked",
		SHA256: blockedSHA,
		PID:    4242,
	}
	resp, err := client.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if resp.Verdict != "deny" || resp.Reason != "binary" {
		t.Fatalf("decision = %+v, want deny/binary", resp)
	}
	if !resp.Notify || resp.Message != "not on this host" {
		t.Errorf("decision = %+v, want notify with custom message", resp)
	}
	if resp.Cached {
		t.Error("first decision should not be cached")
	}

	again, err := client.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !again.Cached {
		t.Error("second decision should come from the cache")
	}
}

func TestAuthorizeCompilerFlow(t *testing.T) {
	srv, _ := newTestEngine(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	compilerSHA := strings.Repeat("1b", 32)
	_, err := client.AddRules(ctx, AddRulesRequest{
		Rules: []rule.FileRule{
			{Policy: "ALLOWLIST_COMPILER", RuleType: "BINARY", Identifier: compilerSHA},
		},
	})
	if err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	const compilerPID = 900
	resp, err := client.Authorize(ctx, AuthorizeRequest{
		Device: 1, Inode: 10,
		Path:   "/usr/bin/cc",
		SHA256: compilerSHA,
		PID:    compilerPID,
	})
	if err != nil {
		t.Fatalf("Authorize compiler: %v", err)
	}
	if resp.Verdict != "allow_compiler" {
		t.Fatalf("verdict = %q, want allow_compiler", resp.Verdict)
	}

	artifactSHA := strings.Repeat("2c", 32)
	if err := client.NotifyFileCreated(ctx, FileCreatedRequest{
		PID:    compilerPID,
		Device: 1, Inode: 500,
		Path:   "/home/dev/a.out",
		SHA256: artifactSHA,
	}); err != nil {
		t.Fatalf("NotifyFileCreated: %v", err)
	}

	if err := client.NotifyProcessExit(ctx, compilerPID); err != nil {
		t.Fatalf("NotifyProcessExit: %v", err)
	}

	// Compiler exit promotes the artifact to a transitive allow rule.
	got, err := client.Authorize(ctx, AuthorizeRequest{
		Device: 1, Inode: 500,
		Path:   "/home/dev/a.out",
		SHA256: artifactSHA,
		PID:    901,
	})
	if err != nil {
		t.Fatalf("Authorize artifact: %v", err)
	}
	if got.Verdict != "allow" || got.Reason != "transitive" {
		t.Fatalf("artifact decision = %+v, want allow/transitive", got)
	}
}

func TestStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := newTestClient(t, srv)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Mode != "monitor" {
		t.Errorf("mode = %q, want monitor", status.Mode)
	}
	if status.EventCount != -1 {
		t.Errorf("event count = %d, want -1 with events disabled", status.EventCount)
	}
	if status.Version != "test" {
		t.Errorf("version = %q, want test", status.Version)
	}
}
