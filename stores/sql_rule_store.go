package stores

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/oarkflow/guard"
	"github.com/oarkflow/squealx"
)

// SQLRuleStore persists rule group trees in SQL (squealx). Groups flatten
// into rule_groups rows linked by parent_id; rules keep their kind-specific
// config as JSON. GetBoundGroups reassembles the trees.
type SQLRuleStore struct {
	db *squealx.DB
}

func NewSQLRuleStore(db *squealx.DB) *SQLRuleStore {
	return &SQLRuleStore{db: db}
}

// SaveGroup upserts the group and, recursively, its nested groups and rules.
func (s *SQLRuleStore) SaveGroup(ctx context.Context, g *guard.RuleGroup) error {
	q := `INSERT INTO rule_groups(id, workstream, name, parent_id, operator, resource, action, active, priority) VALUES(:id, :workstream, :name, :parent_id, :operator, :resource, :action, :active, :priority) ON CONFLICT(id) DO UPDATE SET workstream=:workstream, name=:name, parent_id=:parent_id, operator=:operator, resource=:resource, action=:action, active=:active, priority=:priority`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         g.ID,
		"workstream": g.Workstream,
		"name":       g.Name,
		"parent_id":  g.ParentID,
		"operator":   string(g.Operator),
		"resource":   g.Resource,
		"action":     g.Action,
		"active":     boolToInt(g.Active),
		"priority":   g.Priority,
	})
	if err != nil {
		return err
	}
	for _, r := range g.Rules {
		if err := s.saveRule(ctx, g.ID, r); err != nil {
			return err
		}
	}
	for _, child := range g.Groups {
		child.ParentID = g.ID
		child.Workstream = g.Workstream
		if err := s.SaveGroup(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLRuleStore) saveRule(ctx context.Context, groupID string, r *guard.Rule) error {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return err
	}
	q := `INSERT INTO rules(id, workstream, group_id, name, kind, config_json, active, priority, failure_message) VALUES(:id, :workstream, :group_id, :name, :kind, :config_json, :active, :priority, :failure_message) ON CONFLICT(id) DO UPDATE SET workstream=:workstream, group_id=:group_id, name=:name, kind=:kind, config_json=:config_json, active=:active, priority=:priority, failure_message=:failure_message`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              r.ID,
		"workstream":      r.Workstream,
		"group_id":        groupID,
		"name":            r.Name,
		"kind":            string(r.Kind),
		"config_json":     string(cfg),
		"active":          boolToInt(r.Active),
		"priority":        r.Priority,
		"failure_message": r.FailureMessage,
	})
	return err
}

// DeleteGroup removes a group row and everything beneath it.
func (s *SQLRuleStore) DeleteGroup(ctx context.Context, id string) error {
	children, err := s.childGroups(ctx, id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.DeleteGroup(ctx, child.ID); err != nil {
			return err
		}
	}
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM rules WHERE group_id = :group_id`, map[string]any{"group_id": id}); err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `DELETE FROM rule_groups WHERE id = :id`, map[string]any{"id": id})
	return err
}

// GetBoundGroups loads the workstream's root groups, reassembles their trees
// and keeps the ones whose binding covers the resource/action pair.
func (s *SQLRuleStore) GetBoundGroups(ctx context.Context, workstream, resource, action string) ([]*guard.RuleGroup, error) {
	q := `SELECT id, workstream, name, parent_id, operator, resource, action, active, priority FROM rule_groups WHERE workstream = :workstream AND parent_id = ''`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"workstream": workstream})
	if err != nil {
		return nil, err
	}
	roots := make([]*guard.RuleGroup, 0)
	for r.Next() {
		g, err := scanGroup(r)
		if err != nil {
			r.Close()
			return nil, err
		}
		roots = append(roots, g)
	}
	r.Close()

	out := make([]*guard.RuleGroup, 0, len(roots))
	for _, g := range roots {
		if !g.MatchesBinding(resource, action) {
			continue
		}
		if err := s.loadTree(ctx, g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// loadTree populates a group's rules and nested groups, depth-first.
func (s *SQLRuleStore) loadTree(ctx context.Context, g *guard.RuleGroup) error {
	rules, err := s.groupRules(ctx, g.ID)
	if err != nil {
		return err
	}
	g.Rules = rules
	children, err := s.childGroups(ctx, g.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.loadTree(ctx, child); err != nil {
			return err
		}
	}
	g.Groups = children
	return nil
}

func (s *SQLRuleStore) childGroups(ctx context.Context, parentID string) ([]*guard.RuleGroup, error) {
	q := `SELECT id, workstream, name, parent_id, operator, resource, action, active, priority FROM rule_groups WHERE parent_id = :parent_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"parent_id": parentID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*guard.RuleGroup, 0)
	for r.Next() {
		g, err := scanGroup(r)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *SQLRuleStore) groupRules(ctx context.Context, groupID string) ([]*guard.Rule, error) {
	q := `SELECT id, workstream, group_id, name, kind, config_json, active, priority, failure_message FROM rules WHERE group_id = :group_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*guard.Rule, 0)
	for r.Next() {
		var rule guard.Rule
		var kind, cfgJSON string
		var activeInt int
		if err := r.Scan(&rule.ID, &rule.Workstream, &rule.GroupID, &rule.Name, &kind, &cfgJSON, &activeInt, &rule.Priority, &rule.FailureMessage); err != nil {
			return nil, err
		}
		rule.Kind = guard.RuleKind(kind)
		rule.Active = activeInt != 0
		if err := json.Unmarshal([]byte(cfgJSON), &rule.Config); err != nil {
			return nil, err
		}
		out = append(out, &rule)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(r rowScanner) (*guard.RuleGroup, error) {
	var g guard.RuleGroup
	var operator string
	var activeInt int
	if err := r.Scan(&g.ID, &g.Workstream, &g.Name, &g.ParentID, &operator, &g.Resource, &g.Action, &activeInt, &g.Priority); err != nil {
		return nil, err
	}
	g.Operator = guard.GroupOperator(operator)
	g.Active = activeInt != 0
	return &g, nil
}
