package agents

import (
	"sync"

	"github.com/rendis/shopsync/pkg/schema"
)

const (
	defaultModel  = "gpt-4"
	defaultMemory = MemoryBuffer
)

// defaultConfigs is the static per-type table loaded at process start.
var defaultConfigs = map[schema.AgentType]schema.AgentConfig{
	schema.AgentDataCollection: {
		Temperature: 0.2, MaxTokens: 150,
		Deployment: map[string]string{"machine_type": "n1-standard-2"},
	},
	schema.AgentPersonalization: {
		Temperature: 0.3, MaxTokens: 200,
		Deployment: map[string]string{"machine_type": "n1-standard-4"},
		InputGuard: `has(input.user_id) && input.user_id != ""`,
	},
	schema.AgentLoyalty: {
		Temperature: 0.3, MaxTokens: 150,
		Deployment: map[string]string{"machine_type": "n1-standard-2"},
	},
	schema.AgentPricing: {
		Temperature: 0.2, MaxTokens: 150,
		Deployment: map[string]string{"machine_type": "n1-standard-4"},
		InputGuard: `has(input.product_id)`,
	},
	schema.AgentSentiment: {
		Temperature: 0.3, MaxTokens: 200,
		Deployment: map[string]string{"machine_type": "n1-standard-2"},
	},
	schema.AgentTrend: {
		Temperature: 0.4, MaxTokens: 200,
		Deployment: map[string]string{"machine_type": "n1-standard-4"},
	},
	schema.AgentInventory: {
		Temperature: 0.2, MaxTokens: 150,
		Deployment: map[string]string{"machine_type": "n1-standard-2"},
	},
	schema.AgentPromotion: {
		Temperature: 0.4, MaxTokens: 200,
		Deployment: map[string]string{"machine_type": "n1-standard-2"},
	},
	schema.AgentCustomerSupport: {
		Temperature: 0.5, MaxTokens: 250,
		Deployment: map[string]string{"machine_type": "n1-standard-2"},
	},
}

// DefaultConfig returns the built-in configuration for t.
func DefaultConfig(t schema.AgentType) (schema.AgentConfig, error) {
	base, ok := defaultConfigs[t]
	if !ok {
		return schema.AgentConfig{}, schema.NewErrorf(schema.ErrCodeConfigNotFound, "no configuration for agent type %q", t)
	}
	cfg := base.Clone()
	cfg.AgentType = t
	cfg.ModelName = defaultModel
	cfg.MemoryType = defaultMemory
	cfg.Tools = PipelineSteps(t)
	return cfg, nil
}

// ConfigRegistry holds the current AgentConfig of every agent type.
// Reads return copies; Replace swaps a whole record.
type ConfigRegistry struct {
	mu      sync.RWMutex
	configs map[schema.AgentType]schema.AgentConfig
}

// NewConfigRegistry creates a registry seeded with the default table.
func NewConfigRegistry() *ConfigRegistry {
	r := &ConfigRegistry{configs: make(map[schema.AgentType]schema.AgentConfig, len(defaultConfigs))}
	for _, t := range schema.AllAgentTypes() {
		cfg, _ := DefaultConfig(t)
		r.configs[t] = cfg
	}
	return r
}

// GetConfig returns a copy of the configuration for t, or CONFIG_NOT_FOUND.
func (r *ConfigRegistry) GetConfig(t schema.AgentType) (schema.AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[t]
	if !ok {
		return schema.AgentConfig{}, schema.NewErrorf(schema.ErrCodeConfigNotFound, "no configuration for agent type %q", t)
	}
	return cfg.Clone(), nil
}

// Replace stores cfg as the full record for t.
func (r *ConfigRegistry) Replace(t schema.AgentType, cfg schema.AgentConfig) error {
	if !t.Valid() {
		return schema.NewErrorf(schema.ErrCodeConfigNotFound, "no configuration for agent type %q", t)
	}
	cfg = cfg.Clone()
	cfg.AgentType = t
	r.mu.Lock()
	r.configs[t] = cfg
	r.mu.Unlock()
	return nil
}

// All returns copies of every configuration in agent declaration order.
func (r *ConfigRegistry) All() []schema.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.AgentConfig, 0, len(r.configs))
	for _, t := range schema.AllAgentTypes() {
		if cfg, ok := r.configs[t]; ok {
			out = append(out, cfg.Clone())
		}
	}
	return out
}
