package authz

import (
	"context"
	"fmt"
	"log/slog"

	"clearpath-hq/gatekeeper/pkg/rule"
	"clearpath-hq/gatekeeper/pkg/rule/store"
)

// TransitiveChecker is the part of the Tracker the evaluator needs: whether
// a binary is a pending artifact of a still-running compiler.
type TransitiveChecker interface {
	PendingFor(identity *rule.BinaryIdentity) bool
}

// Evaluator walks rule types in precedence order and maps the first
// matching rule to a decision. Rule lookups hit the store's in-memory
// mirror, so evaluation performs no I/O.
type Evaluator struct {
	store      store.Store
	transitive TransitiveChecker
	cel        *celEvaluator
	logger     *slog.Logger
}

// NewEvaluator creates an evaluator over the given store. transitive may be
// nil when compiler tracking is disabled.
func NewEvaluator(s store.Store, transitive TransitiveChecker, logger *slog.Logger) (*Evaluator, error) {
	if s == nil {
		return nil, fmt.Errorf("rule store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default().With("component", "authz.evaluator")
	}
	celEval, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		store:      s,
		transitive: transitive,
		cel:        celEval,
		logger:     logger,
	}, nil
}

// Evaluate renders a decision for the identity under the given config
// snapshot. Only the first precedence level holding any rule for the
// identity is consulted: a deny at a more specific level wins over an allow
// at a less specific one because evaluation stops at the first match.
func (e *Evaluator) Evaluate(ctx context.Context, identity *rule.BinaryIdentity, cfg Config) Decision {
	for _, t := range rule.OrderWithCEL(cfg.CELPrecedence) {
		identifier, ok := identity.IdentifierFor(t)
		if !ok {
			continue
		}
		r := e.store.Lookup(identifier, t)
		if r == nil {
			continue
		}
		if r.State == rule.StateRemove {
			// Tombstones never rest in the store; treat as absent.
			e.logger.Error("tombstone rule observed during evaluation",
				"identifier", identifier,
				"type", string(t),
			)
			continue
		}
		return e.decisionFromRule(r, t, identity)
	}

	// No rule matched at any level.
	if e.transitive != nil && e.transitive.PendingFor(identity) {
		return Decision{
			Verdict:   VerdictHold,
			Reason:    ReasonTransitivePending,
			Ephemeral: false,
		}
	}

	if cfg.AllowPlatformBinaries && identity.IsPlatformBinary {
		return Decision{Verdict: VerdictAllow, Reason: ReasonPlatformBinary}
	}

	if cfg.Mode == rule.ModeMonitor {
		return Decision{Verdict: VerdictAllow, Reason: ReasonUnmatched}
	}
	return Decision{Verdict: VerdictDeny, Reason: ReasonUnmatched, Notify: true}
}

// decisionFromRule maps a matched rule's state to a decision.
func (e *Evaluator) decisionFromRule(r *rule.Rule, t rule.Type, identity *rule.BinaryIdentity) Decision {
	d := Decision{
		Reason:         reasonForType(t),
		RuleType:       t,
		RuleIdentifier: r.Identifier,
		Message:        r.CustomMessage,
		URL:            r.CustomURL,
	}

	switch r.State {
	case rule.StateAllow, rule.StateAllowLocalBinary, rule.StateAllowLocalSigningID:
		d.Verdict = VerdictAllow
	case rule.StateAllowTransitive:
		d.Verdict = VerdictAllow
		d.Reason = ReasonTransitive
	case rule.StateAllowCompiler:
		d.Verdict = VerdictAllowCompiler
	case rule.StateBlock:
		d.Verdict = VerdictDeny
		d.Notify = true
	case rule.StateSilentBlock:
		d.Verdict = VerdictDeny
		d.Notify = false
	case rule.StateCEL:
		allowed, err := e.cel.evaluate(r, identity)
		if err != nil {
			// Fail closed: an unparseable or erroring expression denies.
			e.logger.Error("cel evaluation failed, denying",
				"rule", r.Identifier,
				"error", err,
			)
			d.Verdict = VerdictDeny
			d.Reason = ReasonCEL
			d.Notify = true
			return d
		}
		d.Reason = ReasonCEL
		if allowed {
			d.Verdict = VerdictAllow
		} else {
			d.Verdict = VerdictDeny
			d.Notify = true
		}
	default:
		// Unknown state reads as deny rather than crash or allow.
		e.logger.Error("rule with unknown state, denying",
			"rule", r.Identifier,
			"state", string(r.State),
		)
		d.Verdict = VerdictDeny
		d.Notify = true
	}
	return d
}

func reasonForType(t rule.Type) Reason {
	switch t {
	case rule.TypeCDHash:
		return ReasonCDHash
	case rule.TypeBinary:
		return ReasonBinary
	case rule.TypeSigningID:
		return ReasonSigningID
	case rule.TypeCEL:
		return ReasonCEL
	case rule.TypeCertificate:
		return ReasonCertificate
	case rule.TypeTeamID:
		return ReasonTeamID
	}
	return ReasonUnmatched
}
