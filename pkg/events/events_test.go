package events

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"clearpath-hq/gatekeeper/pkg/authz"
	"clearpath-hq/gatekeeper/pkg/rule"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(&StoreConfig{
		Path:        filepath.Join(t.TempDir(), "events.db"),
		BusyTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEvent(verdict string, occurredAt time.Time) *DecisionEvent {
	return &DecisionEvent{
		ID:          uuid.NewString(),
		RequestID:   uuid.NewString(),
		OccurredAt:  occurredAt,
		PID:         1234,
		Path:        "/opt/app",
		ContentHash: strings.Repeat("ab", 32),
		Verdict:     verdict,
		Reason:      "binary",
		Mode:        rule.ModeLockdown,
		Notify:      true,
	}
}

func TestStoreInsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	ev := sampleEvent("deny", now)
	ev.Message = "blocked by policy"
	if err := s.Insert(ctx, ev); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.List(ctx, Query{Since: now.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].ID != ev.ID || got[0].Verdict != "deny" || got[0].Message != "blocked by policy" {
		t.Errorf("event = %+v", got[0])
	}
	if got[0].Mode != rule.ModeLockdown {
		t.Errorf("mode = %v", got[0].Mode)
	}
}

func TestStoreListDeniedOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, v := range []string{"allow", "deny", "hold_denied", "allow_compiler"} {
		if err := s.Insert(ctx, sampleEvent(v, now)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.List(ctx, Query{Since: now.Add(-time.Minute), DeniedOnly: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d denied events, want 2", len(got))
	}
	for _, ev := range got {
		if ev.Verdict != "deny" && ev.Verdict != "hold_denied" {
			t.Errorf("unexpected verdict %q", ev.Verdict)
		}
	}
}

func TestStoreListLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		if err := s.Insert(ctx, sampleEvent("deny", now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.List(ctx, Query{Since: now.Add(-time.Minute), Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	// Newest first.
	if !got[0].OccurredAt.After(got[1].OccurredAt) {
		t.Error("events should be ordered newest first")
	}
}

func TestStoreDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Insert(ctx, sampleEvent("deny", now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, sampleEvent("deny", now)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	deleted, err := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func recordedCount(t *testing.T, s *Store) int64 {
	t.Helper()
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func denyDecision() authz.Decision {
	return authz.Decision{Verdict: authz.VerdictDeny, Reason: authz.ReasonBinary, Notify: true}
}

func sampleRequest() *authz.Request {
	return &authz.Request{
		ID:  uuid.NewString(),
		PID: 99,
		Identity: rule.BinaryIdentity{
			Path:        "/opt/app",
			ContentHash: strings.Repeat("cd", 32),
		},
	}
}

func TestRecorderStoresDenies(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, &RecorderConfig{Enabled: true, AsyncBuffer: 8})

	r.Record(sampleRequest(), denyDecision(), rule.ModeLockdown)
	r.Close()

	if n := recordedCount(t, s); n != 1 {
		t.Errorf("stored events = %d, want 1", n)
	}
}

func TestRecorderSkipsAllowsByDefault(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, &RecorderConfig{Enabled: true, AsyncBuffer: 8})

	r.Record(sampleRequest(), authz.Decision{Verdict: authz.VerdictAllow}, rule.ModeMonitor)
	r.Close()

	if n := recordedCount(t, s); n != 0 {
		t.Errorf("stored events = %d, want 0", n)
	}
}

func TestRecorderRecordAllDecisions(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, &RecorderConfig{Enabled: true, RecordAllDecisions: true, AsyncBuffer: 8})

	r.Record(sampleRequest(), authz.Decision{Verdict: authz.VerdictAllow}, rule.ModeMonitor)
	// Ephemeral fallback allows carry no durable information.
	r.Record(sampleRequest(), authz.Decision{Verdict: authz.VerdictAllowNoCache, Ephemeral: true}, rule.ModeMonitor)
	r.Close()

	if n := recordedCount(t, s); n != 1 {
		t.Errorf("stored events = %d, want 1", n)
	}
}

func TestRecorderDisabled(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, &RecorderConfig{Enabled: false, AsyncBuffer: 8})

	r.Record(sampleRequest(), denyDecision(), rule.ModeLockdown)
	r.Close()

	if n := recordedCount(t, s); n != 0 {
		t.Errorf("stored events = %d, want 0", n)
	}
}

func TestPrunerPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, sampleEvent("deny", time.Now().AddDate(0, 0, -10))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, sampleEvent("deny", time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	p := NewPruner(s, &RetentionConfig{RetentionDays: 7, Schedule: "0 3 * * *"})
	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestPrunerZeroRetentionKeepsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Insert(ctx, sampleEvent("deny", time.Now().AddDate(-1, 0, 0))); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	p := NewPruner(s, &RetentionConfig{RetentionDays: 0})
	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestPrunerStartRejectsBadSchedule(t *testing.T) {
	s := newTestStore(t)
	p := NewPruner(s, &RetentionConfig{RetentionDays: 7, Schedule: "not a cron line"})
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}
