package authz

import (
	"context"
	"log/slog"
	"sync"

	"clearpath-hq/gatekeeper/pkg/rule"
	"clearpath-hq/gatekeeper/pkg/rule/store"
)

// Artifact identifies a file written by a compiler process.
type Artifact struct {
	VnodeKey    rule.VnodeKey
	ContentHash string
	Path        string
}

// Tracker follows processes running under a compiler allow rule and the
// files they produce. Compiled artifacts do not exist at rule-authoring
// time; the system trusts outputs of an already-trusted toolchain instead
// of requiring a human to pre-authorize every compiler output.
//
// State is partitioned by process ID and mutated at process-lifecycle rate,
// so a single lock suffices.
type Tracker struct {
	store  store.Store
	cache  *Cache
	logger *slog.Logger

	mu    sync.Mutex
	roots map[int]*compilerRoot

	// byHash indexes pending artifacts by content hash so the evaluator
	// can answer PendingFor without scanning roots.
	byHash  map[string]int
	byVnode map[rule.VnodeKey]int
}

// compilerRoot is one live compiler process and its pending artifacts.
type compilerRoot struct {
	identity rule.BinaryIdentity
	children []Artifact
	denied   bool
}

// NewTracker creates a tracker that writes transitive allow rules into s
// and invalidates promoted artifacts in cache.
func NewTracker(s store.Store, cache *Cache, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default().With("component", "authz.tracker")
	}
	return &Tracker{
		store:   s,
		cache:   cache,
		logger:  logger,
		roots:   make(map[int]*compilerRoot),
		byHash:  make(map[string]int),
		byVnode: make(map[rule.VnodeKey]int),
	}
}

// OnCompilerExecution registers pid as a compiler root. Called by the
// controller when a process's verdict resolves to AllowCompiler.
func (t *Tracker) OnCompilerExecution(pid int, identity rule.BinaryIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.roots[pid]; ok {
		return
	}
	t.roots[pid] = &compilerRoot{identity: identity}
	t.logger.Debug("compiler root registered",
		"pid", pid,
		"signing_id", identity.SigningID,
	)
}

// OnFileCreated records a file written by a compiler root as a pending
// transitive artifact. Events for processes that are not compiler roots are
// ignored.
func (t *Tracker) OnFileCreated(pid int, child Artifact) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.roots[pid]
	if !ok || root.denied {
		return
	}
	root.children = append(root.children, child)
	if child.ContentHash != "" {
		t.byHash[child.ContentHash] = pid
	}
	t.byVnode[child.VnodeKey] = pid
}

// MarkDenied retroactively denies a compiler root. Its pending artifacts
// are discarded on exit instead of promoted.
func (t *Tracker) MarkDenied(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if root, ok := t.roots[pid]; ok {
		root.denied = true
	}
}

// PendingFor reports whether the identity matches a pending artifact of a
// still-running compiler. The evaluator turns this into a Hold verdict.
func (t *Tracker) PendingFor(identity *rule.BinaryIdentity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byVnode[identity.VnodeKey]; ok {
		return true
	}
	if identity.ContentHash != "" {
		if _, ok := t.byHash[identity.ContentHash]; ok {
			return true
		}
	}
	return false
}

// OnProcessExit resolves a compiler root. If the root was never denied,
// each pending artifact is promoted: an allow_transitive rule is written
// for its content hash, any cached hold is resolved allowed, and the cache
// entry is invalidated so the next request picks up the new rule. If the
// root was denied, pending artifacts are discarded and their holds resolve
// to deny.
func (t *Tracker) OnProcessExit(ctx context.Context, pid int) error {
	t.mu.Lock()
	root, ok := t.roots[pid]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.roots, pid)
	children := root.children
	for _, child := range children {
		delete(t.byVnode, child.VnodeKey)
		if child.ContentHash != "" {
			delete(t.byHash, child.ContentHash)
		}
	}
	denied := root.denied
	t.mu.Unlock()

	if len(children) == 0 {
		return nil
	}

	if denied {
		for _, child := range children {
			if t.cache != nil {
				t.cache.ResolveHold(child.VnodeKey, false)
				// ResolveHold is a no-op while the artifact's evaluation
				// is still in flight; invalidate so the leader's Hold
				// commit discards instead of parking an unresolvable
				// hold record.
				key := child.VnodeKey
				t.cache.Invalidate(func(id *rule.BinaryIdentity) bool {
					return id.VnodeKey == key
				})
			}
		}
		t.logger.Info("compiler denied, pending artifacts discarded",
			"pid", pid,
			"artifacts", len(children),
		)
		return nil
	}

	rules := make([]*rule.Rule, 0, len(children))
	for _, child := range children {
		if child.ContentHash == "" {
			continue
		}
		rules = append(rules, &rule.Rule{
			Identifier: child.ContentHash,
			Type:       rule.TypeBinary,
			State:      rule.StateAllowTransitive,
			Comment:    "transitive allow from " + root.identity.Path,
		})
	}
	if len(rules) > 0 {
		if err := t.store.AddRules(ctx, rules, rule.CleanupNone); err != nil {
			t.logger.Error("failed to write transitive rules",
				"pid", pid,
				"error", err,
			)
			return err
		}
	}

	for _, child := range children {
		if t.cache != nil {
			t.cache.ResolveHold(child.VnodeKey, true)
			key := child.VnodeKey
			t.cache.Invalidate(func(id *rule.BinaryIdentity) bool {
				return id.VnodeKey == key
			})
		}
	}

	t.logger.Info("compiler artifacts promoted",
		"pid", pid,
		"rules_written", len(rules),
	)
	return nil
}
