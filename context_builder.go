package guard

import (
	"context"
	"time"
)

// ============================================================================
// COLLABORATOR INTERFACES
// ============================================================================

// AttributeStore reads the administered attribute records per scope. The
// group and role variants are batch fetches: one call per scope, not one per
// ID. Implementations must be safe for concurrent reads.
type AttributeStore interface {
	GetUserAttributes(ctx context.Context, userID, workstream string) (*AttributeRecord, error)
	GetGroupAttributes(ctx context.Context, groupIDs []string, workstream string) (map[string]*AttributeRecord, error)
	GetRoleAttributes(ctx context.Context, roleIDs []string, workstream string) (map[string]*AttributeRecord, error)
}

// RuleRepository reads the declarative rule groups bound to a
// (workstream, resource, action) triple, each fully populated with its nested
// child groups and rules. The repository is read-only to the engine; rule
// administration (including cycle rejection) happens elsewhere.
type RuleRepository interface {
	GetBoundGroups(ctx context.Context, workstream, resource, action string) ([]*RuleGroup, error)
}

// PolicyEngine is the external role-based policy engine consulted for the
// coarse decision before any attribute rules run. The contextBlob is the flat
// serialized evaluation context for engines with custom-function extension
// points.
type PolicyEngine interface {
	Enforce(ctx context.Context, subject, workstream, resource, action string, contextBlob map[string]string) (bool, error)
}

// PolicyEngineFunc adapts a function to the PolicyEngine interface.
type PolicyEngineFunc func(ctx context.Context, subject, workstream, resource, action string, contextBlob map[string]string) (bool, error)

func (f PolicyEngineFunc) Enforce(ctx context.Context, subject, workstream, resource, action string, contextBlob map[string]string) (bool, error) {
	return f(ctx, subject, workstream, resource, action, contextBlob)
}

// ============================================================================
// CONTEXT BUILDER
// ============================================================================

// ContextBuilder assembles the immutable EvaluationContext for one check:
// scoped attribute fetches, precedence merge, resource extraction and the
// environment flags. All fetches happen here, before evaluation, so the
// recursive rule evaluation stays synchronous and side-effect free.
type ContextBuilder struct {
	store     AttributeStore
	extractor *AttributeExtractor
	env       *EnvironmentProvider
	clock     func() time.Time
}

func NewContextBuilder(store AttributeStore, extractor *AttributeExtractor, env *EnvironmentProvider) *ContextBuilder {
	if extractor == nil {
		extractor = NewAttributeExtractor()
	}
	return &ContextBuilder{store: store, extractor: extractor, env: env, clock: time.Now}
}

// BuildContext fetches the principal's group, role and user attribute records
// for the workstream, merges them User > Role > Group, extracts the entity's
// attributes and stamps the environment flags. Store failures surface as
// *StoreError.
func (b *ContextBuilder) BuildContext(ctx context.Context, req AccessRequest) (*EvaluationContext, error) {
	groupRecords, err := b.store.GetGroupAttributes(ctx, req.Principal.Groups, req.Workstream)
	if err != nil {
		return nil, storeErr("fetch group attributes", err)
	}
	roleRecords, err := b.store.GetRoleAttributes(ctx, req.Principal.Roles, req.Workstream)
	if err != nil {
		return nil, storeErr("fetch role attributes", err)
	}
	userRecord, err := b.store.GetUserAttributes(ctx, req.Principal.ID, req.Workstream)
	if err != nil {
		return nil, storeErr("fetch user attributes", err)
	}

	now := b.clock()
	ip := parseClientIP(req.ClientAddr)
	ec := &EvaluationContext{
		Principal:          req.Principal,
		Workstream:         req.Workstream,
		Resource:           req.Resource,
		Action:             req.Action,
		Attributes:         MergeAttributes(groupRecords, roleRecords, userRecord),
		ResourceAttributes: b.extractor.Extract(req.Entity),
		RequestTime:        now,
		ClientIP:           ip,
	}
	if b.env != nil {
		ec.WithinBusinessHours = b.env.IsWithinBusinessHours(now)
		ec.InternalNetwork = b.env.IsInternalNetwork(ip)
	}
	return ec, nil
}
