package guard

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/oarkflow/guard/logger"
	"github.com/oarkflow/guard/utils"
)

// ============================================================================
// DECLARATIVE RULE MODEL
// ============================================================================

// GroupOperator combines the results of a group's children.
type GroupOperator string

const (
	OperatorAnd GroupOperator = "AND"
	OperatorOr  GroupOperator = "OR"
)

// RuleKind tags a rule leaf. The set is closed: every kind has exactly one
// typed configuration and one predicate; there is no general expression
// language.
type RuleKind string

const (
	RuleAttributeComparison RuleKind = "attribute_comparison"
	RulePropertyMatch       RuleKind = "property_match"
	RuleValueRange          RuleKind = "value_range"
	RuleTimeRestriction     RuleKind = "time_restriction"
	RuleLocationRestriction RuleKind = "location_restriction"
	RuleAttributeValue      RuleKind = "attribute_value"
)

// Rule is one indivisible typed predicate. Config holds the kind-specific
// payload; a payload that fails to decode makes the rule evaluate to false,
// never panic (a misconfigured rule must not take down unrelated checks).
type Rule struct {
	ID             string         `json:"id" yaml:"id"`
	Workstream     string         `json:"workstream" yaml:"workstream"`
	GroupID        string         `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	Name           string         `json:"name" yaml:"name"`
	Kind           RuleKind       `json:"kind" yaml:"kind"`
	Config         map[string]any `json:"config" yaml:"config"`
	Active         bool           `json:"active" yaml:"active"`
	Priority       int            `json:"priority" yaml:"priority"`
	FailureMessage string         `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

// RuleGroup is a named AND/OR combinator over rule leaves and nested groups.
// Resource/Action bind the group to the checks it applies to (patterns, see
// utils.MatchPattern). The parent/child relation is acyclic; write-time
// administration rejects cycles before the evaluator ever sees a group.
type RuleGroup struct {
	ID         string        `json:"id" yaml:"id"`
	Workstream string        `json:"workstream" yaml:"workstream"`
	Name       string        `json:"name" yaml:"name"`
	ParentID   string        `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Operator   GroupOperator `json:"operator" yaml:"operator"`
	Resource   string        `json:"resource,omitempty" yaml:"resource,omitempty"`
	Action     string        `json:"action,omitempty" yaml:"action,omitempty"`
	Active     bool          `json:"active" yaml:"active"`
	Priority   int           `json:"priority" yaml:"priority"`
	Groups     []*RuleGroup  `json:"groups,omitempty" yaml:"groups,omitempty"`
	Rules      []*Rule       `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// MatchesBinding reports whether the group's resource/action binding covers
// the requested pair. Empty binding fields match everything; repositories use
// this to answer GetBoundGroups.
func (g *RuleGroup) MatchesBinding(resource, action string) bool {
	if g.Resource != "" && !utils.MatchPattern(resource, g.Resource) {
		return false
	}
	if g.Action != "" && !utils.MatchPattern(action, g.Action) {
		return false
	}
	return true
}

// Per-kind configuration payloads.

type AttributeComparisonConfig struct {
	Attribute        string `json:"attribute"`
	Operator         string `json:"operator"` // >=, <=, >, <, ==, !=
	ResourceProperty string `json:"resource_property"`
}

type PropertyMatchConfig struct {
	Attribute        string `json:"attribute"`
	ResourceProperty string `json:"resource_property"`
	Operator         string `json:"operator"` // == (default) or !=
}

type ValueRangeConfig struct {
	ResourceProperty string  `json:"resource_property"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
}

type TimeRestrictionConfig struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone"`
}

type LocationRestrictionConfig struct {
	CIDRs []string `json:"cidrs"`
}

type AttributeValueConfig struct {
	Attribute string `json:"attribute"`
	Value     any    `json:"value,omitempty"`
	Values    []any  `json:"values,omitempty"`
}

// ============================================================================
// RULE GROUP EVALUATOR
// ============================================================================

// RuleGroupEvaluator recursively evaluates a rule-group tree against an
// evaluation context. It performs no I/O: every record the rules reference
// was fetched into the context beforehand.
type RuleGroupEvaluator struct {
	logger logger.Logger
}

func NewRuleGroupEvaluator(log logger.Logger) *RuleGroupEvaluator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RuleGroupEvaluator{logger: log}
}

// groupChild lets nested groups and rule leaves sort and evaluate together.
type groupChild struct {
	priority int
	group    *RuleGroup
	rule     *Rule
}

// Evaluate walks the group depth-first. Siblings (groups and leaves together)
// run in ascending priority order and combine under the group's operator with
// short-circuiting: AND stops at the first false, OR at the first true.
// Inactive children are skipped entirely. A group with no active children
// yields the operator's identity (AND true, OR false). The second return is
// the first failure reason when the group denies.
func (ev *RuleGroupEvaluator) Evaluate(group *RuleGroup, ec *EvaluationContext) (bool, string) {
	if group == nil {
		return true, ""
	}

	children := make([]groupChild, 0, len(group.Groups)+len(group.Rules))
	for _, g := range group.Groups {
		if g != nil && g.Active {
			children = append(children, groupChild{priority: g.Priority, group: g})
		}
	}
	for _, r := range group.Rules {
		if r != nil && r.Active {
			children = append(children, groupChild{priority: r.Priority, rule: r})
		}
	}
	sort.SliceStable(children, func(i, j int) bool { return children[i].priority < children[j].priority })

	if len(children) == 0 {
		return group.Operator != OperatorOr, ""
	}

	firstFailure := ""
	for _, c := range children {
		var ok bool
		var reason string
		if c.group != nil {
			ok, reason = ev.Evaluate(c.group, ec)
		} else {
			ok = ev.evaluateRule(c.rule, ec)
			if !ok {
				reason = c.rule.FailureMessage
				if reason == "" {
					reason = fmt.Sprintf("rule %s not satisfied", c.rule.Name)
				}
			}
		}
		if !ok && firstFailure == "" {
			firstFailure = reason
		}

		switch group.Operator {
		case OperatorOr:
			if ok {
				return true, ""
			}
		default: // AND
			if !ok {
				return false, reason
			}
		}
	}

	if group.Operator == OperatorOr {
		if firstFailure == "" {
			firstFailure = fmt.Sprintf("no rule in group %s matched", group.Name)
		}
		return false, firstFailure
	}
	return true, ""
}

// evaluateRule dispatches on the rule kind. Missing attributes and malformed
// configurations evaluate to false: absence of data is not authorization.
func (ev *RuleGroupEvaluator) evaluateRule(r *Rule, ec *EvaluationContext) bool {
	switch r.Kind {
	case RuleAttributeComparison:
		var cfg AttributeComparisonConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			ev.logRuleError(r, err)
			return false
		}
		left, okL := ec.Attributes.Get(cfg.Attribute)
		right, okR := ec.ResourceAttributes.Get(cfg.ResourceProperty)
		if !okL || !okR {
			return false
		}
		ok, err := compareValues(left, right, cfg.Operator)
		if err != nil {
			ev.logRuleError(r, err)
			return false
		}
		return ok

	case RulePropertyMatch:
		var cfg PropertyMatchConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			ev.logRuleError(r, err)
			return false
		}
		left, okL := ec.Attributes.Get(cfg.Attribute)
		right, okR := ec.ResourceAttributes.Get(cfg.ResourceProperty)
		if !okL || !okR {
			return false
		}
		equal := fmt.Sprint(left) == fmt.Sprint(right)
		if cfg.Operator == "!=" {
			return !equal
		}
		return equal

	case RuleValueRange:
		var cfg ValueRangeConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			ev.logRuleError(r, err)
			return false
		}
		v, ok := ec.ResourceAttributes.Get(cfg.ResourceProperty)
		if !ok {
			return false
		}
		f, ok := toFloat(v)
		if !ok {
			return false
		}
		return f >= cfg.Min && f <= cfg.Max

	case RuleTimeRestriction:
		var cfg TimeRestrictionConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			ev.logRuleError(r, err)
			return false
		}
		loc := time.UTC
		if cfg.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(cfg.Timezone)
			if err != nil {
				ev.logRuleError(r, err)
				return false
			}
		}
		h := ec.RequestTime.In(loc).Hour()
		if cfg.StartHour <= cfg.EndHour {
			return h >= cfg.StartHour && h < cfg.EndHour
		}
		return h >= cfg.StartHour || h < cfg.EndHour

	case RuleLocationRestriction:
		var cfg LocationRestrictionConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			ev.logRuleError(r, err)
			return false
		}
		if ec.ClientIP == nil {
			return false
		}
		for _, c := range cfg.CIDRs {
			_, ipnet, err := net.ParseCIDR(c)
			if err != nil {
				ev.logRuleError(r, err)
				continue
			}
			if ipnet.Contains(ec.ClientIP) {
				return true
			}
		}
		return false

	case RuleAttributeValue:
		var cfg AttributeValueConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			ev.logRuleError(r, err)
			return false
		}
		v, ok := ec.Attributes.Get(cfg.Attribute)
		if !ok {
			return false
		}
		if len(cfg.Values) > 0 {
			for _, want := range cfg.Values {
				if valuesEqual(v, want) {
					return true
				}
			}
			return false
		}
		return valuesEqual(v, cfg.Value)

	default:
		ev.logRuleError(r, fmt.Errorf("unknown rule kind %q", r.Kind))
		return false
	}
}

func (ev *RuleGroupEvaluator) logRuleError(r *Rule, err error) {
	ev.logger.Error("rule configuration error",
		"rule", r.ID,
		"name", r.Name,
		"kind", string(r.Kind),
		"workstream", r.Workstream,
		"error", err.Error(),
	)
}

// decodeRuleConfig round-trips the loose config map through JSON into the
// kind's typed payload. Rule configs arrive as maps from YAML, JSON and SQL
// alike, so one decode path serves them all.
func decodeRuleConfig(m map[string]any, dst any) error {
	if m == nil {
		return fmt.Errorf("missing rule configuration")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// compareValues applies op to two attribute values: numeric when both sides
// parse as numbers, ordinal string comparison otherwise.
func compareValues(a, b any, op string) (bool, error) {
	var cmp int
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			cmp = -1
		case fa > fb:
			cmp = 1
		}
	} else {
		sa, sb := fmt.Sprint(a), fmt.Sprint(b)
		switch {
		case sa < sb:
			cmp = -1
		case sa > sb:
			cmp = 1
		}
	}

	switch op {
	case ">=":
		return cmp >= 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case "<":
		return cmp < 0, nil
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	default:
		return false, fmt.Errorf("unknown comparison operator %q", op)
	}
}

func validComparisonOperator(op string) bool {
	switch op {
	case ">=", "<=", ">", "<", "==", "!=":
		return true
	}
	return false
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
