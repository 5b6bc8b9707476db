package agents

import "github.com/rendis/shopsync/pkg/schema"

// pipelineSteps are the default tool names each agent chains, in order.
var pipelineSteps = map[schema.AgentType][]string{
	schema.AgentDataCollection:  {"track_user_event", "aggregate_user_data", "validate_data"},
	schema.AgentPersonalization: {"analyze_preferences", "generate_recommendations"},
	schema.AgentLoyalty:         {"calculate_rewards", "manage_program"},
	schema.AgentPricing:         {"analyze_market", "optimize_price"},
	schema.AgentSentiment:       {"process_feedback", "analyze_sentiment"},
	schema.AgentTrend:           {"detect_trends", "analyze_seasonality"},
	schema.AgentInventory:       {"predict_demand", "optimize_inventory"},
	schema.AgentPromotion:       {"generate_campaign", "optimize_targeting"},
	schema.AgentCustomerSupport: {"resolve_query", "manage_ticket"},
}

// PipelineSteps returns the default tool chain of t, or nil for unknown types.
func PipelineSteps(t schema.AgentType) []string {
	steps, ok := pipelineSteps[t]
	if !ok {
		return nil
	}
	return append([]string(nil), steps...)
}

// combineFunc turns the per-step results into the agent output.
type combineFunc func(results []any) map[string]any

// lastResult returns the final step's result. Non-object results are
// wrapped under "result".
func lastResult(results []any) map[string]any {
	if len(results) == 0 {
		return map[string]any{}
	}
	last := results[len(results)-1]
	if m, ok := last.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": last}
}

// keyed names each step's result.
func keyed(keys ...string) combineFunc {
	return func(results []any) map[string]any {
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			if i < len(results) {
				out[k] = results[i]
			}
		}
		return out
	}
}
