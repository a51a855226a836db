package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// RuleEvaluator renders a decision for an identity under a config snapshot.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, identity *rule.BinaryIdentity, cfg Config) Decision
}

// Recorder receives every rendered decision for the event log. It must not
// block the authorization path.
type Recorder interface {
	Record(req *Request, d Decision, mode rule.ClientMode)
}

// Observer receives decision telemetry. Implemented by the metrics
// package; nil disables observation.
type Observer interface {
	ObserveDecision(d Decision, elapsed time.Duration)
	ObserveCoalesced()
	ObserveWaitTimeout()
}

// Controller is the execution-authorization entry point, invoked once per
// execution event by the kernel event source. It owns the fail-safe
// override, the cache fast path, leader/waiter coordination and the
// timeout/fallback policy. It never returns anything but a concrete
// decision: every internal failure resolves to the per-mode fallback.
type Controller struct {
	cache     *Cache
	evaluator RuleEvaluator
	tracker   *Tracker
	snapshot  func() Config
	recorder  Recorder
	observer  Observer
	logger    *slog.Logger
}

// ControllerOption configures optional controller collaborators.
type ControllerOption func(*Controller)

// WithRecorder wires the decision event recorder.
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithObserver wires decision telemetry.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observer = o }
}

// WithTracker wires the transitive allow tracker.
func WithTracker(t *Tracker) ControllerOption {
	return func(c *Controller) { c.tracker = t }
}

// NewController creates a controller. snapshot supplies the immutable
// configuration snapshot used for the whole of one request.
func NewController(cache *Cache, evaluator RuleEvaluator, snapshot func() Config, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = slog.Default().With("component", "authz.controller")
	}
	if snapshot == nil {
		snapshot = DefaultConfig
	}
	c := &Controller{
		cache:     cache,
		evaluator: evaluator,
		snapshot:  snapshot,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize renders the verdict for one execution request.
func (c *Controller) Authorize(ctx context.Context, req *Request) Decision {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	cfg := c.snapshot()

	d := c.authorize(ctx, req, cfg)

	if c.observer != nil {
		c.observer.ObserveDecision(d, time.Since(start))
	}
	if c.recorder != nil {
		c.recorder.Record(req, d, cfg.Mode)
	}
	if !d.Verdict.Allows() {
		c.logger.Info("execution denied",
			"request_id", req.ID,
			"path", req.Identity.Path,
			"sha256", req.Identity.ContentHash,
			"verdict", d.Verdict.String(),
			"reason", string(d.Reason),
			"mode", string(cfg.Mode),
		)
	}
	return d
}

func (c *Controller) authorize(ctx context.Context, req *Request, cfg Config) Decision {
	// Fail-safe override: binaries the OS cannot function without are
	// allowed before cache or rules, so a bad rule set cannot brick the
	// machine. Never subject to timeout or cache state.
	if req.Identity.IsCriticalSystemBinary || rule.IsCriticalSystemPath(req.Identity.Path) {
		return Decision{Verdict: VerdictAllow, Reason: ReasonCriticalSystem}
	}

	key := req.Identity.VnodeKey

	for {
		if d, pending, ok := c.cache.Lookup(key); ok {
			if pending == nil {
				c.afterDecision(req, d)
				return d
			}
			// In flight or held: share the result, bounded by the
			// waiter timeout.
			if c.observer != nil {
				c.observer.ObserveCoalesced()
			}
			return c.wait(ctx, req, pending, cfg)
		}

		leader, pending := c.cache.BeginEvaluation(key, req.Identity)
		if !leader {
			if pending == nil {
				// A decision landed between Lookup and
				// BeginEvaluation; read it on the next pass.
				continue
			}
			if c.observer != nil {
				c.observer.ObserveCoalesced()
			}
			return c.wait(ctx, req, pending, cfg)
		}

		d := c.evaluate(ctx, req, cfg)
		if err := c.cache.Commit(key, d, pending); err != nil {
			c.logger.Error("cache commit failed",
				"request_id", req.ID,
				"error", err,
			)
		}
		c.afterDecision(req, d)
		return d
	}
}

// evaluate calls the evaluator with panic containment: an evaluator fault
// must resolve to the per-mode fallback, never propagate on this path.
func (c *Controller) evaluate(ctx context.Context, req *Request, cfg Config) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("evaluator panic, applying fallback",
				"request_id", req.ID,
				"panic", r,
			)
			d = fallbackDecision(cfg.Mode, ReasonErrorFallback)
		}
	}()
	return c.evaluator.Evaluate(ctx, &req.Identity, cfg)
}

// wait blocks on a shared pending record until resolution, context
// cancellation or the waiter timeout. Expiry affects only this caller's
// returned value: the in-flight evaluation keeps running and updates the
// cache for subsequent callers.
func (c *Controller) wait(ctx context.Context, req *Request, pending *PendingEvaluation, cfg Config) Decision {
	timeout := cfg.WaiterTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().WaiterTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pending.Done():
		d := pending.Decision()
		c.afterDecision(req, d)
		return d
	case <-ctx.Done():
		return fallbackDecision(cfg.Mode, ReasonTimeoutFallback)
	case <-timer.C:
		if c.observer != nil {
			c.observer.ObserveWaitTimeout()
		}
		err := &TimeoutError{RequestID: req.ID, Waited: timeout}
		c.logger.Warn("wait on shared evaluation timed out, applying fallback",
			"request_id", req.ID,
			"error", err,
			"mode", string(cfg.Mode),
		)
		return fallbackDecision(cfg.Mode, ReasonTimeoutFallback)
	}
}

// afterDecision applies decision side effects: an AllowCompiler verdict
// registers the executing process as a compiler root.
func (c *Controller) afterDecision(req *Request, d Decision) {
	if d.Verdict == VerdictAllowCompiler && c.tracker != nil && req.PID > 0 {
		c.tracker.OnCompilerExecution(req.PID, req.Identity)
	}
}
