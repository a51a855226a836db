package authz

import (
	"log/slog"
	"sync"
	"time"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// cacheShardCount must be a power of two. Contention scales with concurrent
// executions, so the cache is sharded rather than guarded by one lock.
const cacheShardCount = 64

// Cache is the per-vnode decision cache with single-flight coordination.
//
// For a given vnode key exactly one caller (the leader) computes the
// verdict while concurrently arriving callers wait on the same
// PendingEvaluation and observe the same result. Invalidation while an
// evaluation is in flight bumps the entry's generation; the leader's commit
// then discards silently instead of storing a stale verdict, and the next
// request re-evaluates. FlushAll never tears an entry down underneath its
// leader: in-flight entries are marked invalidated-on-commit instead.
type Cache struct {
	shards [cacheShardCount]cacheShard
	logger *slog.Logger
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[rule.VnodeKey]*cacheEntry
}

// cacheEntry is either in flight (pending != nil, no decision yet) or
// committed (decision set). A committed Hold entry additionally carries a
// hold record that its resolution closes.
type cacheEntry struct {
	identity   rule.BinaryIdentity
	decision   Decision
	decidedAt  time.Time
	generation uint64
	pending    *PendingEvaluation
	hold       *PendingEvaluation
}

// PendingEvaluation is the record shared by the leader and all waiters of
// one in-flight evaluation (or one unresolved hold). The decision is
// published before the done channel closes; waiters must not read it
// earlier.
type PendingEvaluation struct {
	key        rule.VnodeKey
	generation uint64
	startedAt  time.Time
	done       chan struct{}
	decision   Decision

	// invalidated is set under the shard lock when the entry is
	// invalidated mid-flight; the commit then discards.
	invalidated bool

	// waiters counts callers sharing this record, for metrics.
	waiters int
}

// Done returns a channel closed when the shared result is available.
func (p *PendingEvaluation) Done() <-chan struct{} {
	return p.done
}

// Decision returns the shared result. Valid only after Done is closed.
func (p *PendingEvaluation) Decision() Decision {
	return p.decision
}

// StartedAt returns when the evaluation began.
func (p *PendingEvaluation) StartedAt() time.Time {
	return p.startedAt
}

// NewCache creates an empty decision cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default().With("component", "authz.cache")
	}
	c := &Cache{logger: logger}
	for i := range c.shards {
		c.shards[i].entries = make(map[rule.VnodeKey]*cacheEntry)
	}
	return c
}

func (c *Cache) shard(key rule.VnodeKey) *cacheShard {
	// Inode numbers are dense; fold the device id in so shards stay
	// balanced across filesystems.
	h := key.Inode ^ (key.Device * 0x9e3779b97f4a7c15)
	return &c.shards[h&(cacheShardCount-1)]
}

// Lookup returns the cached state for the key:
//
//   - committed terminal entry: its decision, nil, true
//   - committed Hold entry: the Hold decision, the hold record, true
//   - in-flight entry: a RequestPending decision, the pending record, true
//   - absent: zero decision, nil, false
func (c *Cache) Lookup(key rule.VnodeKey) (Decision, *PendingEvaluation, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Decision{}, nil, false
	}
	if e.pending != nil {
		e.pending.waiters++
		return Decision{Verdict: VerdictRequestPending}, e.pending, true
	}
	if e.decision.Verdict == VerdictHold && e.hold != nil {
		e.hold.waiters++
		d := e.decision
		d.Cached = true
		return d, e.hold, true
	}
	d := e.decision
	d.Cached = true
	return d, nil, true
}

// BeginEvaluation registers this caller against the key. The first caller
// becomes the leader (leader == true) and must call Commit exactly once
// with the pending record. Later callers share the leader's record. If a
// decision was committed between the caller's Lookup and this call, both
// return values are zero and the caller should Lookup again.
func (c *Cache) BeginEvaluation(key rule.VnodeKey, identity rule.BinaryIdentity) (bool, *PendingEvaluation) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		if e.pending != nil {
			e.pending.waiters++
			return false, e.pending
		}
		// Lost the race against another leader's commit.
		return false, nil
	}

	p := &PendingEvaluation{
		key:       key,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	e := &cacheEntry{
		identity: identity,
		pending:  p,
	}
	// The pending record carries the generation it registered under; Commit
	// verifies the entry's generation never moved backwards relative to it.
	p.generation = e.generation
	s.entries[key] = e
	return true, p
}

// Commit publishes the leader's decision: waiters are released with it, and
// it is stored unless it is ephemeral, AllowNoCache, or the entry was
// invalidated while the evaluation ran (generation mismatch). A Hold
// decision is stored together with a fresh hold record that ResolveHold
// later closes.
//
// A generation that moved backwards violates the cache invariant; the
// cache flushes itself and reports a CacheCorruptionError, but the waiters
// are still released with the computed decision.
func (c *Cache) Commit(key rule.VnodeKey, d Decision, p *PendingEvaluation) error {
	s := c.shard(key)
	s.mu.Lock()

	var corruption *CacheCorruptionError
	e, ok := s.entries[key]
	switch {
	case !ok || e.pending != p:
		// Entry vanished or was replaced; nothing to store.
	case e.generation < p.generation:
		corruption = &CacheCorruptionError{
			VnodeKey: key.String(),
			Expected: p.generation,
			Observed: e.generation,
		}
		delete(s.entries, key)
	case p.invalidated || e.generation != p.generation:
		// Invalidated mid-flight: discard silently, next request
		// re-evaluates under the new generation.
		delete(s.entries, key)
	case d.Ephemeral || d.Verdict == VerdictAllowNoCache:
		delete(s.entries, key)
	default:
		e.pending = nil
		e.decision = d
		e.decidedAt = time.Now()
		if d.Verdict == VerdictHold {
			e.hold = &PendingEvaluation{
				key:        key,
				generation: e.generation,
				startedAt:  time.Now(),
				done:       make(chan struct{}),
			}
		}
	}

	p.decision = d
	close(p.done)
	s.mu.Unlock()

	if corruption != nil {
		c.logger.Error("cache corruption detected, flushing", "error", corruption)
		c.FlushAll()
		return corruption
	}
	return nil
}

// ResolveHold resolves a cached Hold entry to HoldAllowed or HoldDenied,
// releasing every caller waiting on it. It is a no-op if the entry is not a
// Hold.
func (c *Cache) ResolveHold(key rule.VnodeKey, allowed bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.pending != nil || e.decision.Verdict != VerdictHold {
		return
	}
	d := e.decision
	if allowed {
		d.Verdict = VerdictHoldAllowed
	} else {
		d.Verdict = VerdictHoldDenied
		d.Notify = true
	}
	e.decision = d
	e.decidedAt = time.Now()
	if e.hold != nil {
		e.hold.decision = d
		close(e.hold.done)
		e.hold = nil
	}
}

// Invalidate removes every committed entry whose identity matches the
// predicate and marks matching in-flight entries invalidated-on-commit.
// It returns the number of entries affected.
func (c *Cache) Invalidate(match func(*rule.BinaryIdentity) bool) int {
	affected := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			if !match(&e.identity) {
				continue
			}
			affected++
			c.invalidateEntryLocked(s, key, e)
		}
		s.mu.Unlock()
	}
	return affected
}

// FlushAll drops every committed entry and marks every in-flight entry
// invalidated-on-commit. It never blocks on in-flight evaluations and so
// cannot deadlock with them.
func (c *Cache) FlushAll() int {
	affected := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			affected++
			c.invalidateEntryLocked(s, key, e)
		}
		s.mu.Unlock()
	}
	return affected
}

// invalidateEntryLocked applies invalidation to one entry with the shard
// lock held.
func (c *Cache) invalidateEntryLocked(s *cacheShard, key rule.VnodeKey, e *cacheEntry) {
	e.generation++
	if e.pending != nil {
		// Leave the entry for the in-flight leader; its commit will
		// observe the bumped generation and discard.
		e.pending.invalidated = true
		return
	}
	if e.hold != nil {
		// Callers waiting on the hold observe the (ephemeral) Hold
		// decision; the kernel keeps holding and the next execution
		// re-evaluates.
		d := e.decision
		d.Ephemeral = true
		e.hold.decision = d
		close(e.hold.done)
		e.hold = nil
	}
	delete(s.entries, key)
}

// Inspect reports the cached state for a key without registering the caller
// as a waiter. It backs the read-only cache-check control operation.
func (c *Cache) Inspect(key rule.VnodeKey) (Decision, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Decision{}, false
	}
	if e.pending != nil {
		return Decision{Verdict: VerdictRequestPending}, true
	}
	d := e.decision
	d.Cached = true
	return d, true
}

// Size returns the number of entries, committed and in flight.
func (c *Cache) Size() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
