package authz

import (
	"log/slog"

	"clearpath-hq/gatekeeper/pkg/rule"
	"clearpath-hq/gatekeeper/pkg/rule/store"
)

// BindStoreInvalidation subscribes the cache to rule-store mutations: every
// changed rule invalidates the cache entries whose identity it matches, so
// no request trusts a verdict produced under rules that no longer exist.
// Mutations too broad to enumerate (cleanup sync) flush the whole cache.
func BindStoreInvalidation(s store.Store, cache *Cache, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default().With("component", "authz.invalidation")
	}
	s.OnChange(func(change store.ChangeSet) {
		if change.Flush {
			n := cache.FlushAll()
			logger.Info("decision cache flushed after rule cleanup", "entries", n)
			return
		}
		if len(change.Rules) == 0 {
			return
		}
		n := cache.Invalidate(func(identity *rule.BinaryIdentity) bool {
			for _, changed := range change.Rules {
				if identityMatchesRule(identity, changed) {
					return true
				}
			}
			return false
		})
		if n > 0 {
			logger.Info("decision cache entries invalidated",
				"rules_changed", len(change.Rules),
				"entries", n,
			)
		}
	})
}

// identityMatchesRule reports whether a changed rule applies to the given
// identity, using the same field mapping as the evaluator.
func identityMatchesRule(identity *rule.BinaryIdentity, changed store.ChangedRule) bool {
	id, ok := identity.IdentifierFor(changed.Type)
	return ok && id == changed.Identifier
}
