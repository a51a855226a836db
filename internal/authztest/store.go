// Package authztest provides shared fakes and fixtures for authorization
// engine tests.
package authztest

import (
	"context"
	"sync"

	"clearpath-hq/gatekeeper/pkg/rule"
	"clearpath-hq/gatekeeper/pkg/rule/store"
)

type memKey struct {
	identifier string
	t          rule.Type
}

// MemoryStore is an in-memory rule store for tests. It implements
// store.Store with the same semantics as the SQLite store: tombstones
// delete, cleanup modes wipe, and OnChange callbacks fire synchronously.
type MemoryStore struct {
	mu        sync.RWMutex
	rules     map[memKey]*rule.Rule
	callbacks []func(store.ChangeSet)

	// lookupCalls counts Lookup invocations, so tests can assert how many
	// precedence levels an evaluation consulted.
	lookupCalls int
}

var _ store.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[memKey]*rule.Rule)}
}

// Lookup returns the rule for (identifier, type), or nil.
func (m *MemoryStore) Lookup(identifier string, t rule.Type) *rule.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls++
	return m.rules[memKey{rule.NormalizeIdentifier(t, identifier), t}]
}

// LookupRule tries identifiers in precedence order, returning the first
// match.
func (m *MemoryStore) LookupRule(ids store.IdentifierSet) *rule.Rule {
	for _, t := range rule.PrecedenceOrder {
		identifier, ok := ids.IdentifierFor(t)
		if !ok {
			continue
		}
		if r := m.Lookup(identifier, t); r != nil {
			return r
		}
	}
	return nil
}

// AddRules applies rules under the cleanup mode and notifies subscribers.
func (m *MemoryStore) AddRules(ctx context.Context, rules []*rule.Rule, cleanup rule.Cleanup) error {
	m.mu.Lock()

	change := store.ChangeSet{}
	switch cleanup {
	case rule.CleanupAll:
		m.rules = make(map[memKey]*rule.Rule)
		change.Flush = true
	case rule.CleanupNonTransitive:
		for k, r := range m.rules {
			if r.State != rule.StateAllowTransitive {
				delete(m.rules, k)
			}
		}
		change.Flush = true
	}

	for _, r := range rules {
		identifier := rule.NormalizeIdentifier(r.Type, r.Identifier)
		k := memKey{identifier, r.Type}
		if r.State == rule.StateRemove {
			delete(m.rules, k)
		} else {
			copied := *r
			copied.Identifier = identifier
			m.rules[k] = &copied
		}
		change.Rules = append(change.Rules, store.ChangedRule{
			Identifier: identifier,
			Type:       r.Type,
		})
	}

	callbacks := append([]func(store.ChangeSet){}, m.callbacks...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(change)
	}
	return nil
}

// Remove deletes the rule for (identifier, type).
func (m *MemoryStore) Remove(ctx context.Context, identifier string, t rule.Type) error {
	return m.AddRules(ctx, []*rule.Rule{{
		Identifier: identifier,
		Type:       t,
		State:      rule.StateRemove,
	}}, rule.CleanupNone)
}

// All returns every stored rule.
func (m *MemoryStore) All() []*rule.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*rule.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		copied := *r
		out = append(out, &copied)
	}
	return out
}

// Counts returns per-category rule counts.
func (m *MemoryStore) Counts() store.Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c store.Counts
	for k, r := range m.rules {
		switch {
		case r.State == rule.StateAllowCompiler:
			c.Compiler++
		case r.State == rule.StateAllowTransitive:
			c.Transitive++
		case k.t == rule.TypeBinary:
			c.Binary++
		case k.t == rule.TypeCertificate:
			c.Certificate++
		case k.t == rule.TypeTeamID:
			c.TeamID++
		case k.t == rule.TypeSigningID:
			c.SigningID++
		case k.t == rule.TypeCDHash:
			c.CDHash++
		case k.t == rule.TypeCEL:
			c.CEL++
		}
	}
	return c
}

// OnChange registers a mutation callback.
func (m *MemoryStore) OnChange(fn func(store.ChangeSet)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// LookupCalls returns how many Lookup calls the store has served.
func (m *MemoryStore) LookupCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupCalls
}
