package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// DECLARATIVE CONFIGURATION
// ============================================================================

// EngineConfig carries the tunables of the enforcer itself. The TTL is in
// milliseconds so the field survives YAML and JSON unchanged.
type EngineConfig struct {
	DecisionCacheEnabled bool  `json:"decision_cache_enabled" yaml:"decision_cache_enabled"`
	DecisionCacheTTL     int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	CacheNumCounters     int64 `json:"cache_num_counters" yaml:"cache_num_counters"`
	CacheMaxCost         int64 `json:"cache_max_cost" yaml:"cache_max_cost"`
	CacheBufferItems     int64 `json:"cache_buffer_items" yaml:"cache_buffer_items"`
}

// Config is the full declarative state of the engine: environment settings,
// engine tunables, rule group trees and administered attribute records. It
// loads from YAML or JSON and can be applied onto writable stores.
type Config struct {
	Version     string             `json:"version" yaml:"version"`
	Environment *EnvironmentConfig `json:"environment,omitempty" yaml:"environment,omitempty"`
	Engine      EngineConfig       `json:"engine" yaml:"engine"`
	Groups      []*RuleGroup       `json:"groups,omitempty" yaml:"groups,omitempty"`
	Attributes  []*AttributeRecord `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// RuleGroupWriter persists rule group trees; implemented by the memory and
// SQL rule stores.
type RuleGroupWriter interface {
	SaveGroup(ctx context.Context, group *RuleGroup) error
}

// AttributeWriter persists administered attribute records; implemented by the
// memory, SQL and Redis attribute stores.
type AttributeWriter interface {
	SaveAttributes(ctx context.Context, record *AttributeRecord) error
}

// LoadConfigFile reads path and decodes it as YAML or JSON by extension.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return LoadConfigYAML(data)
	case strings.HasSuffix(path, ".json"):
		return LoadConfigJSON(data)
	default:
		if cfg, err := LoadConfigYAML(data); err == nil {
			return cfg, nil
		}
		return LoadConfigJSON(data)
	}
}

// ConfigLoader decodes declarative configuration from raw bytes.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) { return LoadConfigYAML(data) }

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) { return LoadConfigJSON(data) }

func LoadConfigYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return &cfg, nil
}

func LoadConfigJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// Validate checks the config for the problems that would otherwise surface as
// silent rule failures at evaluation time: unknown operators or rule kinds,
// undecodable rule configs, duplicate group IDs (a duplicate in a flattened
// tree is how a cycle manifests) and malformed environment settings.
func (c *Config) Validate() error {
	if c.Environment != nil {
		if _, err := NewEnvironmentProvider(*c.Environment); err != nil {
			return fmt.Errorf("environment: %w", err)
		}
	}
	seen := make(map[string]bool)
	for _, g := range c.Groups {
		if err := validateGroup(g, seen); err != nil {
			return err
		}
	}
	for _, rec := range c.Attributes {
		switch rec.Scope {
		case ScopeUser, ScopeGroup, ScopeRole:
		default:
			return fmt.Errorf("attribute record %s: unknown scope %q", rec.SubjectID, rec.Scope)
		}
		if rec.SubjectID == "" {
			return fmt.Errorf("attribute record with scope %s: missing subject id", rec.Scope)
		}
	}
	return nil
}

func validateGroup(g *RuleGroup, seen map[string]bool) error {
	if g == nil {
		return fmt.Errorf("nil rule group")
	}
	if g.ID == "" {
		return fmt.Errorf("rule group %q: missing id", g.Name)
	}
	if seen[g.ID] {
		return fmt.Errorf("rule group %s: duplicate id (cycle or copy-paste)", g.ID)
	}
	seen[g.ID] = true
	if g.Operator != OperatorAnd && g.Operator != OperatorOr {
		return fmt.Errorf("rule group %s: unknown operator %q", g.ID, g.Operator)
	}
	for _, r := range g.Rules {
		if err := validateRule(r); err != nil {
			return fmt.Errorf("rule group %s: %w", g.ID, err)
		}
	}
	for _, child := range g.Groups {
		if err := validateGroup(child, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("nil rule")
	}
	if r.ID == "" {
		return fmt.Errorf("rule %q: missing id", r.Name)
	}
	switch r.Kind {
	case RuleAttributeComparison:
		var cfg AttributeComparisonConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if !validComparisonOperator(cfg.Operator) {
			return fmt.Errorf("rule %s: unknown comparison operator %q", r.ID, cfg.Operator)
		}
	case RulePropertyMatch:
		var cfg PropertyMatchConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	case RuleValueRange:
		var cfg ValueRangeConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	case RuleTimeRestriction:
		var cfg TimeRestrictionConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	case RuleLocationRestriction:
		var cfg LocationRestrictionConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	case RuleAttributeValue:
		var cfg AttributeValueConfig
		if err := decodeRuleConfig(r.Config, &cfg); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	default:
		return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

// Apply validates the config and persists its groups and attribute records
// through the given writers. A nil writer skips that section.
func (c *Config) Apply(ctx context.Context, groups RuleGroupWriter, attrs AttributeWriter) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if groups != nil {
		for _, g := range c.Groups {
			if err := groups.SaveGroup(ctx, g); err != nil {
				return storeErr("save rule group", err)
			}
		}
	}
	if attrs != nil {
		for _, rec := range c.Attributes {
			if err := attrs.SaveAttributes(ctx, rec); err != nil {
				return storeErr("save attribute record", err)
			}
		}
	}
	return nil
}

// EnforcerOptionsFromConfig turns the environment and engine sections into
// enforcer options.
func EnforcerOptionsFromConfig(cfg *Config) ([]EnforcerOption, error) {
	var opts []EnforcerOption
	if cfg.Environment != nil {
		env, err := NewEnvironmentProvider(*cfg.Environment)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithEnvironment(env))
	}
	if cfg.Engine.DecisionCacheEnabled {
		numCounters := cfg.Engine.CacheNumCounters
		if numCounters <= 0 {
			numCounters = 1e4
		}
		maxCost := cfg.Engine.CacheMaxCost
		if maxCost <= 0 {
			maxCost = 1 << 20
		}
		bufferItems := cfg.Engine.CacheBufferItems
		if bufferItems <= 0 {
			bufferItems = 64
		}
		ttl := time.Duration(cfg.Engine.DecisionCacheTTL) * time.Millisecond
		if ttl <= 0 {
			ttl = time.Minute
		}
		opts = append(opts, WithDecisionCache(numCounters, maxCost, bufferItems, ttl))
	}
	return opts, nil
}
