package guard

import (
	"context"
	"testing"
)

const sampleYAML = `
version: "1"
environment:
  business_hours_start: 9
  business_hours_end: 17
  timezone: UTC
  internal_cidrs:
    - 10.0.0.0/8
engine:
  decision_cache_enabled: true
  decision_cache_ttl_ms: 30000
groups:
  - id: g-finance
    workstream: ws-a
    name: finance documents
    operator: AND
    resource: documents/*
    action: read
    active: true
    rules:
      - id: r-dept
        workstream: ws-a
        name: finance department only
        kind: attribute_value
        active: true
        config:
          attribute: department
          value: finance
      - id: r-clearance
        workstream: ws-a
        name: clearance vs sensitivity
        kind: attribute_comparison
        active: true
        config:
          attribute: clearance
          operator: ">="
          resource_property: sensitivity
attributes:
  - scope: user
    subject_id: u1
    workstream: ws-a
    attributes:
      clearance: 5
  - scope: group
    subject_id: finance-team
    workstream: ws-a
    attributes:
      department: finance
`

func TestLoadConfigYAML(t *testing.T) {
	cfg, err := LoadConfigYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Groups) != 1 || len(cfg.Groups[0].Rules) != 2 {
		t.Fatalf("unexpected shape: %+v", cfg.Groups)
	}
	if cfg.Groups[0].Rules[1].Kind != RuleAttributeComparison {
		t.Fatalf("rule kind = %q", cfg.Groups[0].Rules[1].Kind)
	}
	if len(cfg.Attributes) != 2 || cfg.Attributes[0].Scope != ScopeUser {
		t.Fatalf("unexpected attributes: %+v", cfg.Attributes)
	}
	if !cfg.Engine.DecisionCacheEnabled || cfg.Engine.DecisionCacheTTL != 30000 {
		t.Fatalf("engine section: %+v", cfg.Engine)
	}
}

func TestConfigRoundtrip(t *testing.T) {
	cfg, err := LoadConfigYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	cfg2, err := LoadConfigJSON(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := cfg2.Validate(); err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if len(cfg2.Groups) != 1 || len(cfg2.Attributes) != 2 {
		t.Fatalf("roundtrip lost data: %+v", cfg2)
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	cfg := &Config{Groups: []*RuleGroup{
		NewGroup("g", "ws-a").Rule(&Rule{ID: "r", Kind: RuleKind("nonsense"), Active: true, Config: map[string]any{}}).Build(),
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown rule kind should fail validation")
	}
}

func TestValidateRejectsBadOperator(t *testing.T) {
	g := NewGroup("g", "ws-a").Build()
	g.Operator = GroupOperator("XOR")
	cfg := &Config{Groups: []*RuleGroup{g}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown group operator should fail validation")
	}
}

func TestValidateRejectsBadComparisonOperator(t *testing.T) {
	cfg := &Config{Groups: []*RuleGroup{
		NewGroup("g", "ws-a").Rule(AttributeComparisonRule("r", "clearance", "~=", "sensitivity")).Build(),
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown comparison operator should fail validation")
	}
}

func TestValidateRejectsDuplicateGroupIDs(t *testing.T) {
	cfg := &Config{Groups: []*RuleGroup{
		NewGroup("g", "ws-a").Group(NewGroup("g", "ws-a").Build()).Build(),
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("duplicate group id should fail validation")
	}
}

func TestValidateRejectsBadScope(t *testing.T) {
	cfg := &Config{Attributes: []*AttributeRecord{
		{Scope: AttributeScope("team"), SubjectID: "x", Workstream: "ws-a"},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown scope should fail validation")
	}
}

type collectWriters struct {
	groups []*RuleGroup
	attrs  []*AttributeRecord
}

func (c *collectWriters) SaveGroup(ctx context.Context, g *RuleGroup) error {
	c.groups = append(c.groups, g)
	return nil
}

func (c *collectWriters) SaveAttributes(ctx context.Context, rec *AttributeRecord) error {
	c.attrs = append(c.attrs, rec)
	return nil
}

func TestConfigApply(t *testing.T) {
	cfg, err := LoadConfigYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sink := &collectWriters{}
	if err := cfg.Apply(context.Background(), sink, sink); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(sink.groups) != 1 || len(sink.attrs) != 2 {
		t.Fatalf("apply wrote groups=%d attrs=%d", len(sink.groups), len(sink.attrs))
	}
}

func TestEnforcerOptionsFromConfig(t *testing.T) {
	cfg, err := LoadConfigYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	opts, err := EnforcerOptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("expected environment and cache options, got %d", len(opts))
	}

	e := newTestEnforcer(t, allowPolicy, clearanceStore(), &spyRuleRepo{}, opts...)
	if e.builder.env == nil {
		t.Fatal("environment option not applied")
	}
	if e.decisionCache == nil {
		t.Fatal("decision cache option not applied")
	}
}
