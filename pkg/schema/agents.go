package schema

// AgentType identifies one of the nine specialized agent roles.
type AgentType string

const (
	AgentDataCollection  AgentType = "data_collection"
	AgentPersonalization AgentType = "personalization"
	AgentLoyalty         AgentType = "loyalty"
	AgentPricing         AgentType = "pricing"
	AgentSentiment       AgentType = "sentiment"
	AgentTrend           AgentType = "trend"
	AgentInventory       AgentType = "inventory"
	AgentPromotion       AgentType = "promotion"
	AgentCustomerSupport AgentType = "customer_support"
)

var allAgentTypes = []AgentType{
	AgentDataCollection,
	AgentPersonalization,
	AgentLoyalty,
	AgentPricing,
	AgentSentiment,
	AgentTrend,
	AgentInventory,
	AgentPromotion,
	AgentCustomerSupport,
}

// AllAgentTypes returns every agent type in declaration order.
func AllAgentTypes() []AgentType {
	out := make([]AgentType, len(allAgentTypes))
	copy(out, allAgentTypes)
	return out
}

// Valid reports whether t is one of the known agent types.
func (t AgentType) Valid() bool {
	for _, known := range allAgentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseAgentType converts a string to an AgentType, failing with CONFIG_NOT_FOUND.
func ParseAgentType(s string) (AgentType, error) {
	t := AgentType(s)
	if !t.Valid() {
		return "", NewErrorf(ErrCodeConfigNotFound, "unknown agent type %q", s)
	}
	return t, nil
}

// AgentConfig is the static configuration record for one agent type.
type AgentConfig struct {
	AgentType   AgentType         `json:"agent_type"`
	ModelName   string            `json:"model_name"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	Tools       []string          `json:"tools"`                  // pipeline tool names, in step order
	MemoryType  string            `json:"memory_type"`
	Deployment  map[string]string `json:"deployment,omitempty"`   // serving hints, e.g. machine_type
	InputGuard  string            `json:"input_guard,omitempty"`  // CEL expression over `input`
	Inactive    bool              `json:"inactive,omitempty"`
}

// Clone returns a deep copy so registry readers cannot mutate shared state.
func (c AgentConfig) Clone() AgentConfig {
	out := c
	if c.Tools != nil {
		out.Tools = append([]string(nil), c.Tools...)
	}
	if c.Deployment != nil {
		out.Deployment = make(map[string]string, len(c.Deployment))
		for k, v := range c.Deployment {
			out.Deployment[k] = v
		}
	}
	return out
}

// AgentMetrics is the per-agent counter snapshot reported by status calls and the monitor.
type AgentMetrics struct {
	Invocations       int64   `json:"invocations"`
	Successes         int64   `json:"successes"`
	Errors            int64   `json:"error_count"`
	TotalProcessingMs float64 `json:"total_processing_ms"`
	LastProcessingMs  float64 `json:"processing_time"`
	MemoryTurns       int     `json:"memory_turns"`
	MemoryBytes       int     `json:"memory_usage"`
}

// SuccessRate is the fraction of successful invocations, 0 when never invoked.
func (m AgentMetrics) SuccessRate() float64 {
	if m.Invocations == 0 {
		return 0
	}
	return float64(m.Successes) / float64(m.Invocations)
}

// AgentStatus is the externally visible state of a live agent.
type AgentStatus struct {
	Active  bool         `json:"active"`
	Metrics AgentMetrics `json:"metrics"`
}
