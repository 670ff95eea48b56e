package guard

// Builders provide a fluent API for assembling rule groups and rules in code.
// Config files are the usual source of rule trees; the builders serve tests
// and programmatic setup.

// GroupBuilder builds a RuleGroup.
type GroupBuilder struct {
	g *RuleGroup
}

func NewGroup(id, workstream string) *GroupBuilder {
	return &GroupBuilder{g: &RuleGroup{ID: id, Workstream: workstream, Operator: OperatorAnd, Active: true}}
}

func (b *GroupBuilder) Name(name string) *GroupBuilder { b.g.Name = name; return b }

func (b *GroupBuilder) And() *GroupBuilder { b.g.Operator = OperatorAnd; return b }

func (b *GroupBuilder) Or() *GroupBuilder { b.g.Operator = OperatorOr; return b }

func (b *GroupBuilder) For(resource, action string) *GroupBuilder {
	b.g.Resource = resource
	b.g.Action = action
	return b
}

func (b *GroupBuilder) Priority(p int) *GroupBuilder { b.g.Priority = p; return b }

func (b *GroupBuilder) Inactive() *GroupBuilder { b.g.Active = false; return b }

func (b *GroupBuilder) Rule(rules ...*Rule) *GroupBuilder {
	for _, r := range rules {
		if r != nil {
			r.Workstream = b.g.Workstream
			r.GroupID = b.g.ID
			b.g.Rules = append(b.g.Rules, r)
		}
	}
	return b
}

func (b *GroupBuilder) Group(children ...*RuleGroup) *GroupBuilder {
	for _, c := range children {
		if c != nil {
			c.ParentID = b.g.ID
			b.g.Groups = append(b.g.Groups, c)
		}
	}
	return b
}

func (b *GroupBuilder) Build() *RuleGroup { return b.g }

// Rule constructors, one per kind.

func AttributeComparisonRule(id, attribute, op, resourceProperty string) *Rule {
	return newRule(id, RuleAttributeComparison, map[string]any{
		"attribute": attribute, "operator": op, "resource_property": resourceProperty,
	})
}

func PropertyMatchRule(id, attribute, resourceProperty string) *Rule {
	return newRule(id, RulePropertyMatch, map[string]any{
		"attribute": attribute, "resource_property": resourceProperty,
	})
}

func ValueRangeRule(id, resourceProperty string, min, max float64) *Rule {
	return newRule(id, RuleValueRange, map[string]any{
		"resource_property": resourceProperty, "min": min, "max": max,
	})
}

func TimeRestrictionRule(id string, startHour, endHour int, timezone string) *Rule {
	return newRule(id, RuleTimeRestriction, map[string]any{
		"start_hour": startHour, "end_hour": endHour, "timezone": timezone,
	})
}

func LocationRestrictionRule(id string, cidrs ...string) *Rule {
	vals := make([]any, len(cidrs))
	for i, c := range cidrs {
		vals[i] = c
	}
	return newRule(id, RuleLocationRestriction, map[string]any{"cidrs": vals})
}

func AttributeValueRule(id, attribute string, value any) *Rule {
	return newRule(id, RuleAttributeValue, map[string]any{
		"attribute": attribute, "value": value,
	})
}

func AttributeOneOfRule(id, attribute string, values ...any) *Rule {
	return newRule(id, RuleAttributeValue, map[string]any{
		"attribute": attribute, "values": values,
	})
}

func newRule(id string, kind RuleKind, cfg map[string]any) *Rule {
	return &Rule{ID: id, Name: id, Kind: kind, Config: cfg, Active: true}
}

// FailWith sets the denial reason reported when the rule blocks a request.
func (r *Rule) FailWith(msg string) *Rule { r.FailureMessage = msg; return r }

// WithPriority orders the rule among its siblings (lower runs first).
func (r *Rule) WithPriority(p int) *Rule { r.Priority = p; return r }
