package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/oarkflow/guard/logger"
)

// ============================================================================
// AUTHORIZATION ENFORCER
// ============================================================================

// Enforcer is the single public entry point for authorization decisions. One
// check sequences three stages, conjunctively and fail-fast:
//
//  1. the external role-based policy engine (coarse allow/deny),
//  2. the declarative rule groups bound to the resource/action,
//  3. the workstream's custom evaluators (which may abstain).
//
// Any explicit denial is terminal. Stages 2 and 3 never run after an earlier
// denial, and stage 3's definitive result is the last word for
// workstream-specific logic.
type Enforcer struct {
	policy    PolicyEngine
	rules     RuleRepository
	builder   *ContextBuilder
	registry  *WorkstreamEvaluatorRegistry
	evaluator *RuleGroupEvaluator
	logger    logger.Logger
	traceID   logger.TraceIDFunc

	decisionCache *ristretto.Cache
	decisionTTL   time.Duration
}

// EnforcerOption configures an Enforcer at construction.
type EnforcerOption func(e *Enforcer) error

// WithLogger installs a structured logger for decision and rule-error logs.
func WithLogger(l logger.Logger) EnforcerOption {
	return func(e *Enforcer) error {
		e.logger = l
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator.
func WithTraceIDFunc(f logger.TraceIDFunc) EnforcerOption {
	return func(e *Enforcer) error {
		e.traceID = f
		return nil
	}
}

// WithEnvironment installs the environment provider used for the
// business-hours and internal-network context flags.
func WithEnvironment(env *EnvironmentProvider) EnforcerOption {
	return func(e *Enforcer) error {
		e.builder.env = env
		return nil
	}
}

// WithExtractor installs the resource attribute extractor (and its registered
// per-type mappers).
func WithExtractor(x *AttributeExtractor) EnforcerOption {
	return func(e *Enforcer) error {
		e.builder.extractor = x
		return nil
	}
}

// WithRegistry installs a pre-populated custom evaluator registry.
func WithRegistry(r *WorkstreamEvaluatorRegistry) EnforcerOption {
	return func(e *Enforcer) error {
		e.registry = r
		return nil
	}
}

// WithClock overrides the request-time source (tests).
func WithClock(now func() time.Time) EnforcerOption {
	return func(e *Enforcer) error {
		e.builder.clock = now
		return nil
	}
}

// WithDecisionCache enables the ristretto decision cache. Cached decisions
// expire after ttl; entity-bearing checks bypass the cache because the
// decision depends on resource state the key cannot capture.
func WithDecisionCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) EnforcerOption {
	return func(e *Enforcer) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("decision cache: %w", err)
		}
		e.decisionCache = cache
		e.decisionTTL = ttl
		return nil
	}
}

func NewEnforcer(policy PolicyEngine, store AttributeStore, rules RuleRepository, opts ...EnforcerOption) (*Enforcer, error) {
	e := &Enforcer{
		policy:   policy,
		rules:    rules,
		builder:  NewContextBuilder(store, nil, nil),
		registry: NewWorkstreamEvaluatorRegistry(),
		traceID:  uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.logger == nil {
		e.logger = logger.NewPhusluLogger()
	}
	e.evaluator = NewRuleGroupEvaluator(e.logger)
	return e, nil
}

// RegisterEvaluator adds a workstream custom evaluator. Call at process
// startup.
func (e *Enforcer) RegisterEvaluator(ev CustomEvaluator) {
	e.registry.Register(ev)
}

// Check evaluates the request and returns a decision. Denial is a normal
// result, not an error; the returned error is reserved for collaborator
// failures where the engine cannot decide at all.
func (e *Enforcer) Check(ctx context.Context, req AccessRequest) (Result, error) {
	return e.check(ctx, req, nil)
}

// EnsureAuthorized is Check, converted to an error on denial. The returned
// *AccessDeniedError wraps ErrAccessDenied and carries the denial reason.
func (e *Enforcer) EnsureAuthorized(ctx context.Context, req AccessRequest) error {
	res, err := e.Check(ctx, req)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return &AccessDeniedError{Resource: req.Resource, Action: req.Action, Reason: res.Reason}
	}
	return nil
}

// CheckAll evaluates the requests in order. It stops at the first
// collaborator failure; denials do not stop the batch.
func (e *Enforcer) CheckAll(ctx context.Context, reqs []AccessRequest) ([]Result, error) {
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		res, err := e.Check(ctx, req)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

func (e *Enforcer) check(ctx context.Context, req AccessRequest, trace *[]string) (Result, error) {
	tid := e.traceID()

	cacheable := e.decisionCache != nil && req.Entity == nil && trace == nil
	var cacheKey string
	if cacheable {
		cacheKey = req.Workstream + "|" + req.Principal.ID + "|" + req.Resource + "|" + req.Action
		if v, ok := e.decisionCache.Get(cacheKey); ok {
			if res, ok := v.(Result); ok {
				return res, nil
			}
		}
	}

	ec, err := e.builder.BuildContext(ctx, req)
	if err != nil {
		return Result{}, err
	}

	// 1. Coarse role-based decision from the external policy engine.
	tracef(trace, "1. role policy check for %s/%s on %s", req.Workstream, req.Action, req.Resource)
	allowed, err := e.policy.Enforce(ctx, req.Principal.ID, req.Workstream, req.Resource, req.Action, ec.Blob())
	if err != nil {
		return Result{}, storeErr("role policy check", err)
	}
	if !allowed {
		res := Deny(fmt.Sprintf("role policy denies %s on %s", req.Action, req.Resource))
		tracef(trace, "   DENY: %s", res.Reason)
		e.finish(cacheable, cacheKey, tid, req, res)
		return res, nil
	}
	tracef(trace, "   role policy allows")

	// 2. Declarative rule groups bound to (workstream, resource, action).
	groups, err := e.rules.GetBoundGroups(ctx, req.Workstream, req.Resource, req.Action)
	if err != nil {
		return Result{}, storeErr("fetch rule groups", err)
	}
	tracef(trace, "2. %d bound rule group(s)", len(groups))
	for _, g := range groups {
		if g == nil || !g.Active {
			continue
		}
		ok, reason := e.evaluator.Evaluate(g, ec)
		tracef(trace, "   group %s (%s) => %v", g.Name, g.Operator, ok)
		if !ok {
			if reason == "" {
				reason = fmt.Sprintf("no matching rule in group %s", g.Name)
			}
			res := Deny(reason)
			tracef(trace, "   DENY: %s", reason)
			e.finish(cacheable, cacheKey, tid, req, res)
			return res, nil
		}
	}

	// 3. Workstream custom evaluators; a definitive verdict is final, an
	// abstention leaves the decision from stages 1-2 standing.
	if custom := e.registry.Evaluate(req.Workstream, ec); custom != nil {
		res := Result{Allowed: custom.Allowed, Reason: custom.Reason}
		if !custom.Allowed && res.Reason == "" {
			res.Reason = custom.Message
		}
		tracef(trace, "3. custom evaluator verdict: allowed=%v reason=%s", custom.Allowed, custom.Reason)
		e.finish(cacheable, cacheKey, tid, req, res)
		return res, nil
	}
	tracef(trace, "3. no custom evaluator claimed the request")

	res := Allow()
	e.finish(cacheable, cacheKey, tid, req, res)
	return res, nil
}

func (e *Enforcer) finish(cacheable bool, cacheKey, traceID string, req AccessRequest, res Result) {
	if cacheable {
		e.decisionCache.SetWithTTL(cacheKey, res, 1, e.decisionTTL)
	}
	e.logger.Info("authorization decision",
		"trace_id", traceID,
		"workstream", req.Workstream,
		"subject", req.Principal.ID,
		"resource", req.Resource,
		"action", req.Action,
		"allowed", res.Allowed,
		"reason", res.Reason,
	)
}

// InvalidateDecisionCache flushes every cached decision. Call after rule or
// attribute administration writes.
func (e *Enforcer) InvalidateDecisionCache() {
	if e.decisionCache != nil {
		e.decisionCache.Clear()
	}
}

func tracef(trace *[]string, format string, args ...any) {
	if trace != nil {
		*trace = append(*trace, fmt.Sprintf(format, args...))
	}
}
