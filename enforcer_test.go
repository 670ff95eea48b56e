package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oarkflow/guard/logger"
)

// fakeAttrStore serves canned attribute records keyed by subject ID.
type fakeAttrStore struct {
	user   map[string]*AttributeRecord
	groups map[string]*AttributeRecord
	roles  map[string]*AttributeRecord
	err    error
}

func (f *fakeAttrStore) GetUserAttributes(ctx context.Context, userID, workstream string) (*AttributeRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user[userID], nil
}

func (f *fakeAttrStore) GetGroupAttributes(ctx context.Context, groupIDs []string, workstream string) (map[string]*AttributeRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return pick(f.groups, groupIDs), nil
}

func (f *fakeAttrStore) GetRoleAttributes(ctx context.Context, roleIDs []string, workstream string) (map[string]*AttributeRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return pick(f.roles, roleIDs), nil
}

func pick(src map[string]*AttributeRecord, ids []string) map[string]*AttributeRecord {
	out := make(map[string]*AttributeRecord)
	for _, id := range ids {
		if rec, ok := src[id]; ok {
			out[id] = rec
		}
	}
	return out
}

// spyRuleRepo counts fetches so tests can assert the fail-fast ordering.
type spyRuleRepo struct {
	groups []*RuleGroup
	calls  atomic.Int64
	err    error
}

func (s *spyRuleRepo) GetBoundGroups(ctx context.Context, workstream, resource, action string) ([]*RuleGroup, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*RuleGroup, 0, len(s.groups))
	for _, g := range s.groups {
		if g.Workstream == workstream && g.MatchesBinding(resource, action) {
			out = append(out, g)
		}
	}
	return out, nil
}

func allowPolicy(ctx context.Context, subject, workstream, resource, action string, blob map[string]string) (bool, error) {
	return true, nil
}

func denyPolicy(ctx context.Context, subject, workstream, resource, action string, blob map[string]string) (bool, error) {
	return false, nil
}

func docRequest() AccessRequest {
	return AccessRequest{
		Principal:  Principal{ID: "u1", Roles: []string{"analyst"}, Groups: []string{"finance-team"}},
		Workstream: "ws-a",
		Resource:   "documents/q3-report",
		Action:     "read",
		ClientAddr: "10.1.2.3",
	}
}

func clearanceStore() *fakeAttrStore {
	return &fakeAttrStore{
		user: map[string]*AttributeRecord{
			"u1": rec(ScopeUser, "u1", map[string]any{"clearance": 5}),
		},
		groups: map[string]*AttributeRecord{
			"finance-team": rec(ScopeGroup, "finance-team", map[string]any{"clearance": 1, "department": "finance"}),
		},
		roles: map[string]*AttributeRecord{
			"analyst": rec(ScopeRole, "analyst", map[string]any{"clearance": 2}),
		},
	}
}

func clearanceGroup() *RuleGroup {
	return NewGroup("g-clearance", "ws-a").For("documents/*", "read").
		Rule(AttributeComparisonRule("r-clr", "clearance", ">=", "sensitivity").FailWith("insufficient clearance")).
		Build()
}

func newTestEnforcer(t *testing.T, policy PolicyEngineFunc, store AttributeStore, repo RuleRepository, opts ...EnforcerOption) *Enforcer {
	t.Helper()
	opts = append([]EnforcerOption{WithLogger(logger.NewNullLogger())}, opts...)
	e, err := NewEnforcer(policy, store, repo, opts...)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	return e
}

func TestCheckAttributePrecedenceDecides(t *testing.T) {
	repo := &spyRuleRepo{groups: []*RuleGroup{clearanceGroup()}}
	e := newTestEnforcer(t, allowPolicy, clearanceStore(), repo)
	e.builder.extractor.RegisterMapper(document{}, func(entity any) map[string]any {
		doc := entity.(document)
		return map[string]any{"sensitivity": doc.Sensitivity}
	})

	req := docRequest()
	req.Entity = document{Sensitivity: 4}

	// group says clearance 1 and role says 2; the user override of 5 must win
	res, err := e.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("user-scope clearance should satisfy the rule: %+v", res)
	}

	// without the user override the role value 2 loses to sensitivity 4
	store := clearanceStore()
	delete(store.user, "u1")
	e2 := newTestEnforcer(t, allowPolicy, store, repo)
	e2.builder.extractor.RegisterMapper(document{}, func(entity any) map[string]any {
		return map[string]any{"sensitivity": entity.(document).Sensitivity}
	})
	res, err = e2.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("role-scope clearance 2 should not satisfy sensitivity 4")
	}
	if res.Reason != "insufficient clearance" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestCheckRuleDenyStopsBeforeCustom(t *testing.T) {
	repo := &spyRuleRepo{groups: []*RuleGroup{clearanceGroup()}}
	store := clearanceStore()
	delete(store.user, "u1")
	e := newTestEnforcer(t, allowPolicy, store, repo)

	var customRan atomic.Bool
	e.RegisterEvaluator(EvaluatorFunc{WorkstreamID: "ws-a", Fn: func(ec *EvaluationContext) *EvaluationResult {
		customRan.Store(true)
		return &EvaluationResult{Allowed: true}
	}})

	req := docRequest()
	req.Entity = map[string]any{"sensitivity": 4}

	res, err := e.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected declarative deny")
	}
	if customRan.Load() {
		t.Fatal("custom evaluators must not run after a declarative deny")
	}
}

func TestCheckCustomEvaluatorDefinitive(t *testing.T) {
	repo := &spyRuleRepo{}
	e := newTestEnforcer(t, allowPolicy, clearanceStore(), repo)
	e.RegisterEvaluator(EvaluatorFunc{WorkstreamID: "ws-a", Fn: func(ec *EvaluationContext) *EvaluationResult {
		if v, _ := ec.Attributes.Get("department"); v == "finance" {
			return &EvaluationResult{Allowed: false, Reason: "finance freeze in effect"}
		}
		return nil
	}})

	res, err := e.Check(context.Background(), docRequest())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("definitive custom deny must stand")
	}
	if res.Reason != "finance freeze in effect" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestCheckCustomEvaluatorAbstains(t *testing.T) {
	repo := &spyRuleRepo{}
	e := newTestEnforcer(t, allowPolicy, clearanceStore(), repo)
	e.RegisterEvaluator(EvaluatorFunc{WorkstreamID: "ws-a", Fn: abstain})

	res, err := e.Check(context.Background(), docRequest())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("abstention must leave the earlier allow standing: %+v", res)
	}
}

func TestCheckPolicyDenySkipsRuleFetch(t *testing.T) {
	repo := &spyRuleRepo{groups: []*RuleGroup{clearanceGroup()}}
	e := newTestEnforcer(t, denyPolicy, clearanceStore(), repo)

	res, err := e.Check(context.Background(), docRequest())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("policy deny must be terminal")
	}
	if res.Reason == "" {
		t.Fatal("denial must carry a reason")
	}
	if repo.calls.Load() != 0 {
		t.Fatalf("rule groups must not be fetched after a policy deny, got %d fetches", repo.calls.Load())
	}
}

func TestEnsureAuthorized(t *testing.T) {
	e := newTestEnforcer(t, allowPolicy, clearanceStore(), &spyRuleRepo{})
	if err := e.EnsureAuthorized(context.Background(), docRequest()); err != nil {
		t.Fatalf("expected nil error on allow, got %v", err)
	}

	e = newTestEnforcer(t, denyPolicy, clearanceStore(), &spyRuleRepo{})
	err := e.EnsureAuthorized(context.Background(), docRequest())
	if err == nil {
		t.Fatal("expected error on deny")
	}
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("denial should match ErrAccessDenied, got %v", err)
	}
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *AccessDeniedError, got %T", err)
	}
	if denied.Resource != "documents/q3-report" || denied.Reason == "" {
		t.Fatalf("denial details missing: %+v", denied)
	}
}

func TestCollaboratorFailureIsError(t *testing.T) {
	storeFailure := errors.New("connection refused")
	e := newTestEnforcer(t, allowPolicy, &fakeAttrStore{err: storeFailure}, &spyRuleRepo{})

	_, err := e.Check(context.Background(), docRequest())
	if err == nil {
		t.Fatal("store failure must surface as an error, not a decision")
	}
	if !errors.Is(err, storeFailure) {
		t.Fatalf("expected wrapped store failure, got %v", err)
	}
	if errors.Is(err, ErrAccessDenied) {
		t.Fatal("a collaborator failure is not a denial")
	}

	repo := &spyRuleRepo{err: errors.New("query timeout")}
	e = newTestEnforcer(t, allowPolicy, clearanceStore(), repo)
	if _, err := e.Check(context.Background(), docRequest()); err == nil {
		t.Fatal("repository failure must surface as an error")
	}
}

func TestCheckAll(t *testing.T) {
	repo := &spyRuleRepo{groups: []*RuleGroup{clearanceGroup()}}
	store := clearanceStore()
	delete(store.user, "u1")
	e := newTestEnforcer(t, allowPolicy, store, repo)

	read := docRequest()
	read.Entity = map[string]any{"sensitivity": 4}
	list := docRequest()
	list.Resource = "documents"
	list.Action = "list"

	results, err := e.CheckAll(context.Background(), []AccessRequest{read, list})
	if err != nil {
		t.Fatalf("check all: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Allowed {
		t.Fatal("read should be denied by the clearance rule")
	}
	if !results[1].Allowed {
		t.Fatal("list has no bound groups and should pass")
	}
}

func TestDecisionCache(t *testing.T) {
	repo := &spyRuleRepo{}
	e := newTestEnforcer(t, allowPolicy, clearanceStore(), repo,
		WithDecisionCache(1e4, 1<<20, 64, time.Minute))

	ctx := context.Background()
	req := docRequest()

	res, err := e.Check(ctx, req)
	if err != nil || !res.Allowed {
		t.Fatalf("first check: res=%+v err=%v", res, err)
	}
	e.decisionCache.Wait()

	if _, err := e.Check(ctx, req); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if repo.calls.Load() > 1 {
		t.Fatalf("second check should hit the cache, got %d fetches", repo.calls.Load())
	}

	// entity-bearing requests bypass the cache
	withEntity := req
	withEntity.Entity = map[string]any{"sensitivity": 1}
	before := repo.calls.Load()
	if _, err := e.Check(ctx, withEntity); err != nil {
		t.Fatalf("entity check: %v", err)
	}
	if repo.calls.Load() != before+1 {
		t.Fatal("entity-bearing check must not be served from the cache")
	}

	e.InvalidateDecisionCache()
	before = repo.calls.Load()
	if _, err := e.Check(ctx, req); err != nil {
		t.Fatalf("post-invalidate check: %v", err)
	}
	if repo.calls.Load() != before+1 {
		t.Fatal("invalidation should force a fresh evaluation")
	}
}

func TestExplainTrace(t *testing.T) {
	repo := &spyRuleRepo{groups: []*RuleGroup{clearanceGroup()}}
	store := clearanceStore()
	delete(store.user, "u1")
	e := newTestEnforcer(t, allowPolicy, store, repo)

	req := docRequest()
	req.Entity = map[string]any{"sensitivity": 4}

	exp, err := e.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if exp.Result.Allowed {
		t.Fatal("expected deny")
	}
	if len(exp.Trace) == 0 {
		t.Fatal("trace must record the stages")
	}
}
