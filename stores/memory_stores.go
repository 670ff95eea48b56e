package stores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/guard"
)

// MemoryAttributeStore keeps administered attribute records in-memory for
// testing/demo. Keyed by (scope, subject, workstream).
type MemoryAttributeStore struct {
	mu      sync.RWMutex
	records map[attrKey]*guard.AttributeRecord
}

type attrKey struct {
	scope      guard.AttributeScope
	subjectID  string
	workstream string
}

func NewMemoryAttributeStore() *MemoryAttributeStore {
	return &MemoryAttributeStore{records: make(map[attrKey]*guard.AttributeRecord)}
}

// SaveAttributes stores a copy of the record, stamping UpdatedAt when unset.
func (s *MemoryAttributeStore) SaveAttributes(ctx context.Context, rec *guard.AttributeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *rec
	if dup.UpdatedAt.IsZero() {
		dup.UpdatedAt = time.Now()
	}
	s.records[attrKey{rec.Scope, rec.SubjectID, rec.Workstream}] = &dup
	return nil
}

// DeleteAttributes removes a record; deleting a missing record is a no-op.
func (s *MemoryAttributeStore) DeleteAttributes(ctx context.Context, scope guard.AttributeScope, subjectID, workstream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, attrKey{scope, subjectID, workstream})
	return nil
}

func (s *MemoryAttributeStore) GetUserAttributes(ctx context.Context, userID, workstream string) (*guard.AttributeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecord(s.records[attrKey{guard.ScopeUser, userID, workstream}]), nil
}

func (s *MemoryAttributeStore) GetGroupAttributes(ctx context.Context, groupIDs []string, workstream string) (map[string]*guard.AttributeRecord, error) {
	return s.batch(guard.ScopeGroup, groupIDs, workstream), nil
}

func (s *MemoryAttributeStore) GetRoleAttributes(ctx context.Context, roleIDs []string, workstream string) (map[string]*guard.AttributeRecord, error) {
	return s.batch(guard.ScopeRole, roleIDs, workstream), nil
}

func (s *MemoryAttributeStore) batch(scope guard.AttributeScope, ids []string, workstream string) map[string]*guard.AttributeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*guard.AttributeRecord, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[attrKey{scope, id, workstream}]; ok {
			out[id] = cloneRecord(rec)
		}
	}
	return out
}

func cloneRecord(rec *guard.AttributeRecord) *guard.AttributeRecord {
	if rec == nil {
		return nil
	}
	dup := *rec
	dup.Attributes = make(map[string]any, len(rec.Attributes))
	for k, v := range rec.Attributes {
		dup.Attributes[k] = v
	}
	return &dup
}

// MemoryRuleRepository keeps rule group trees in-memory. Only root groups are
// registered; nested children travel inside their parent.
type MemoryRuleRepository struct {
	mu     sync.RWMutex
	groups map[string]*guard.RuleGroup // by group ID
}

func NewMemoryRuleRepository() *MemoryRuleRepository {
	return &MemoryRuleRepository{groups: make(map[string]*guard.RuleGroup)}
}

// SaveGroup registers or replaces a root group tree.
func (r *MemoryRuleRepository) SaveGroup(ctx context.Context, group *guard.RuleGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group.ID] = group
	return nil
}

func (r *MemoryRuleRepository) DeleteGroup(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, id)
	return nil
}

// GetBoundGroups returns the workstream's root groups whose resource/action
// binding covers the request, sorted by priority then ID for a stable order.
func (r *MemoryRuleRepository) GetBoundGroups(ctx context.Context, workstream, resource, action string) ([]*guard.RuleGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*guard.RuleGroup, 0)
	for _, g := range r.groups {
		if g.Workstream != workstream {
			continue
		}
		if g.MatchesBinding(resource, action) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
