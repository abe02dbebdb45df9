package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// NodeType classifies a node's role in the pipeline. The planner treats
// all types alike except TypeGate, which always occupies a stage of its
// own.
type NodeType string

const (
	TypeAggregator  NodeType = "aggregator"
	TypeProcessor   NodeType = "processor"
	TypeAnalyzer    NodeType = "analyzer"
	TypeSynthesizer NodeType = "synthesizer"
	TypeGate        NodeType = "gate"
	TypePublisher   NodeType = "publisher"
)

// LLMConfig selects the model a node should call and its sampling settings.
type LLMConfig struct {
	Model         string  `yaml:"model" json:"model"`
	FallbackModel string  `yaml:"fallback_model,omitempty" json:"fallback_model,omitempty"`
	Temperature   float64 `yaml:"temperature" json:"temperature"`
	MaxTokens     int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// ToolConfig controls a node's access to external tools.
type ToolConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Servers     []string `yaml:"servers,omitempty" json:"servers,omitempty"`
	PreferTools bool     `yaml:"prefer_tools" json:"prefer_tools"`
}

// NodeConfig is the per-node declaration the planner and registry consume.
// DependsOn names the node IDs whose outputs must be merged into state
// before this node runs.
type NodeConfig struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Type           NodeType       `yaml:"type" json:"type"`
	Enabled        bool           `yaml:"enabled" json:"enabled"`
	TimeoutSeconds int            `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxItems       int            `yaml:"max_items,omitempty" json:"max_items,omitempty"`
	DependsOn      []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Params         map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	LLM            *LLMConfig     `yaml:"llm,omitempty" json:"llm,omitempty"`
	Tools          *ToolConfig    `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// Timeout converts TimeoutSeconds to a duration, falling back to def when
// the node declares none.
func (c NodeConfig) Timeout(def time.Duration) time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return def
}

// ParamString returns a string parameter, or def when absent or not a
// string.
func (c NodeConfig) ParamString(key, def string) string {
	if v, ok := c.Params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// ParamInt returns an integer parameter, or def when absent. YAML and JSON
// decoding produce different numeric types, so both int and float64 are
// accepted.
func (c NodeConfig) ParamInt(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// ParamFloat returns a float parameter, or def when absent.
func (c NodeConfig) ParamFloat(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// ParamStrings returns a string-slice parameter, or def when absent.
// YAML and JSON decode lists as []any, so both forms are accepted.
func (c NodeConfig) ParamStrings(key string, def []string) []string {
	switch v := c.Params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return def
	}
}

// ConfigStore holds the live node configurations. Updates take effect on
// the next run; a run in flight reads each node's configuration at the
// moment the node executes.
type ConfigStore struct {
	mu      sync.RWMutex
	configs map[string]NodeConfig
}

// NewConfigStore builds a store from the given configurations. A duplicate
// node ID is a declaration error.
func NewConfigStore(configs []NodeConfig) (*ConfigStore, error) {
	s := &ConfigStore{configs: make(map[string]NodeConfig, len(configs))}
	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, &EngineError{Message: "node configuration missing id", Code: CodeBadConfig}
		}
		if _, dup := s.configs[cfg.ID]; dup {
			return nil, &EngineError{Message: fmt.Sprintf("duplicate node configuration %q", cfg.ID), Code: CodeBadConfig}
		}
		s.configs[cfg.ID] = cfg
	}
	return s, nil
}

// Get returns the configuration for a node ID.
func (s *ConfigStore) Get(id string) (NodeConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	return cfg, ok
}

// Set inserts or replaces a node configuration.
func (s *ConfigStore) Set(cfg NodeConfig) error {
	if cfg.ID == "" {
		return &EngineError{Message: "node configuration missing id", Code: CodeBadConfig}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
	return nil
}

// SetEnabled toggles a node without touching the rest of its
// configuration.
func (s *ConfigStore) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return fmt.Errorf("set enabled %q: %w", id, ErrNodeNotFound)
	}
	cfg.Enabled = enabled
	s.configs[id] = cfg
	return nil
}

// Overrides carries request-scoped configuration overrides keyed by node
// ID. They apply only for the duration of a single run and never touch the
// stored base configuration.
type Overrides map[string]map[string]any

// Override returns a copy of a node's configuration with a shallow set of
// overrides applied. Recognized keys are "enabled", "timeout_seconds",
// "max_items", and "name"; anything else lands in Params. Nested
// structures in the base Params are not merged, only replaced whole.
func (s *ConfigStore) Override(id string, overrides map[string]any) (NodeConfig, error) {
	cfg, ok := s.Get(id)
	if !ok {
		return NodeConfig{}, fmt.Errorf("override %q: %w", id, ErrNodeNotFound)
	}
	return applyOverrides(cfg, overrides), nil
}

// applyOverrides merges a shallow override set into a copy of cfg. The base
// configuration is never mutated; Params is always copied before writing.
func applyOverrides(cfg NodeConfig, overrides map[string]any) NodeConfig {
	if len(overrides) == 0 {
		return cfg
	}

	params := make(map[string]any, len(cfg.Params)+len(overrides))
	for k, v := range cfg.Params {
		params[k] = v
	}
	for k, v := range overrides {
		switch k {
		case "enabled":
			if b, ok := v.(bool); ok {
				cfg.Enabled = b
			}
		case "timeout_seconds":
			cfg.TimeoutSeconds = asInt(v, cfg.TimeoutSeconds)
		case "max_items":
			cfg.MaxItems = asInt(v, cfg.MaxItems)
		case "name":
			if name, ok := v.(string); ok {
				cfg.Name = name
			}
		default:
			params[k] = v
		}
	}
	cfg.Params = params
	return cfg
}

// All returns every configuration sorted by node ID.
func (s *ConfigStore) All() []NodeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// snapshot returns a copy of the config map for the planner.
func (s *ConfigStore) snapshot() map[string]NodeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]NodeConfig, len(s.configs))
	for id, cfg := range s.configs {
		out[id] = cfg
	}
	return out
}

func asInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
