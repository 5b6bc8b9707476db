package validation

import (
	"fmt"

	"github.com/rendis/shopsync/pkg/schema"
)

// ToolLookup reports whether a tool name is registered.
type ToolLookup interface {
	Has(name string) bool
}

// validateWorkflowSemantic checks what the schema cannot: duplicate agents,
// an empty agent set and budget relations.
func validateWorkflowSemantic(cfg schema.WorkflowConfig) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[schema.AgentType]bool, len(cfg.EnabledAgents))
	for i, t := range cfg.EnabledAgents {
		path := fmt.Sprintf("enabled_agents[%d]", i)
		if !t.Valid() {
			result.AddError(path, schema.ErrCodeConfigNotFound, fmt.Sprintf("unknown agent type %q", t))
			continue
		}
		if seen[t] {
			result.AddWarning(path, schema.ErrCodeValidation, fmt.Sprintf("agent %s listed more than once", t))
		}
		seen[t] = true
	}
	if len(cfg.EnabledAgents) == 0 {
		result.AddWarning("enabled_agents", schema.ErrCodeValidation, "no agents enabled; every result key will be empty")
	}

	if cfg.MonitoringInterval > 0 && cfg.TimeoutSeconds > 0 && cfg.MonitoringInterval >= cfg.TimeoutSeconds {
		result.AddWarning("monitoring_interval", schema.ErrCodeValidation,
			"monitoring interval is not shorter than the timeout; no metrics will be reported")
	}
	if cfg.MaxSteps > 0 && cfg.MaxSteps < len(seen) {
		result.AddWarning("max_steps", schema.ErrCodeValidation,
			fmt.Sprintf("max_steps %d is below the %d enabled agents; runs will fail", cfg.MaxSteps, len(seen)))
	}
	return result
}

// validateAgentTools checks that every configured tool is registered.
func validateAgentTools(params map[string]any, lookup ToolLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if lookup == nil {
		return result
	}
	names, ok := params["tools"].([]any)
	if !ok {
		if typed, isStrings := params["tools"].([]string); isStrings {
			for _, n := range typed {
				names = append(names, n)
			}
		}
	}
	for i, n := range names {
		name, _ := n.(string)
		if name != "" && !lookup.Has(name) {
			result.AddError(fmt.Sprintf("tools[%d]", i), schema.ErrCodeToolNotFound,
				fmt.Sprintf("tool %q is not registered", name))
		}
	}
	return result
}
