package tools

import (
	"time"

	"github.com/rendis/shopsync/internal/expressions"
)

// RuleSpec declares a built-in rule tool.
type RuleSpec struct {
	Name        string
	Description string
	Fields      []Field
}

// Every pipeline tool receives the agent input (user_id, interaction_type,
// data, the data keys lifted to the top level, agent_results) plus
// `previous`, the output of the preceding pipeline step.
var builtinRules = []RuleSpec{
	// data_collection
	{"track_user_event", "Record a user interaction event", []Field{
		{"user_id", `user_id ?? ""`},
		{"event_type", `interaction_type ?? "unknown"`},
		{"field_count", `data == nil ? 0 : len(data)`},
		{"tracked", `true`},
	}},
	{"aggregate_user_data", "Aggregate tracked events into a user profile", []Field{
		{"user_id", `previous?.user_id ?? ""`},
		{"event_type", `previous?.event_type ?? "unknown"`},
		{"attributes", `data`},
		{"engagement_score", `min(1.0, (previous?.field_count ?? 0) * 0.1 + 0.1)`},
	}},
	{"validate_data", "Validate the aggregated profile", []Field{
		{"user_id", `previous?.user_id ?? ""`},
		{"event_type", `previous?.event_type`},
		{"engagement_score", `previous?.engagement_score ?? 0.0`},
		{"valid", `(previous?.user_id ?? "") != ""`},
		{"issues", `valid ? [] : ["missing user_id"]`},
	}},

	// personalization
	{"analyze_preferences", "Derive category preferences for a user", []Field{
		{"user_id", `user_id`},
		{"categories", `category != nil ? [category] : []`},
		{"affinity", `agent_results?.data_collection?.engagement_score ?? 0.5`},
	}},
	{"generate_recommendations", "Produce product recommendations", []Field{
		{"user_id", `previous?.user_id`},
		{"items", `map(previous?.categories ?? [], # + "-bestsellers")`},
		{"strategy", `(previous?.affinity ?? 0.5) >= 0.5 ? "personalized" : "popular"`},
		{"confidence", `previous?.affinity ?? 0.5`},
	}},

	// loyalty
	{"calculate_rewards", "Compute reward points for a purchase", []Field{
		{"user_id", `user_id`},
		{"points", `int((amount ?? 0) * 10) + (points ?? 0)`},
	}},
	{"manage_program", "Place the user in a loyalty tier", []Field{
		{"user_id", `previous?.user_id`},
		{"points", `previous?.points ?? 0`},
		{"tier", `points >= 1000 ? "gold" : points >= 100 ? "silver" : "bronze"`},
	}},

	// pricing
	{"analyze_market", "Estimate demand for a product", []Field{
		{"product_id", `product_id`},
		{"base_price", `price ?? 100.0`},
		{"demand_factor", `(agent_results?.trend?.trends?.trend_score ?? 0.5) * 0.5 + (agent_results?.personalization?.confidence ?? 0.5) * 0.5`},
	}},
	{"optimize_price", "Compute the optimal price", []Field{
		{"product_id", `previous?.product_id`},
		{"optimal_price", `round((previous?.base_price ?? 100.0) * (0.9 + (previous?.demand_factor ?? 0.5) * 0.2) * 100) / 100`},
		{"price_range", `[round(optimal_price * 90) / 100, round(optimal_price * 110) / 100]`},
		{"confidence", `previous?.demand_factor ?? 0.5`},
	}},

	// sentiment
	{"process_feedback", "Normalize free-text feedback", []Field{
		{"text", `lower(text ?? message ?? "")`},
		{"length", `len(text)`},
	}},
	{"analyze_sentiment", "Score the sentiment of feedback", []Field{
		{"positive_hits", `count(["great", "love", "excellent", "good", "happy", "fast"], (previous?.text ?? "") contains #)`},
		{"negative_hits", `count(["bad", "hate", "terrible", "slow", "broken", "refund"], (previous?.text ?? "") contains #)`},
		{"sentiment_score", `positive_hits + negative_hits == 0 ? 0.0 : (positive_hits - negative_hits) / (positive_hits + negative_hits)`},
		{"label", `sentiment_score > 0.2 ? "positive" : sentiment_score < -0.2 ? "negative" : "neutral"`},
	}},

	// trend
	{"detect_trends", "Detect demand trends from sentiment", []Field{
		{"category", `category ?? "general"`},
		{"trend_score", `0.5 + (agent_results?.sentiment?.sentiment_score ?? 0.0) * 0.4`},
		{"direction", `trend_score > 0.6 ? "rising" : trend_score < 0.4 ? "falling" : "stable"`},
	}},
	{"analyze_seasonality", "Classify the current season", []Field{
		{"month", `month ?? now_month`},
		{"season", `month in [12, 1, 2] ? "winter" : month in [3, 4, 5] ? "spring" : month in [6, 7, 8] ? "summer" : "autumn"`},
		{"peak", `month in [11, 12]`},
	}},

	// inventory
	{"predict_demand", "Forecast product demand", []Field{
		{"product_id", `product_id`},
		{"forecast", `round((base_demand ?? 100) * (0.5 + (agent_results?.trend?.trends?.trend_score ?? 0.5)))`},
	}},
	{"optimize_inventory", "Compute stock and reorder levels", []Field{
		{"product_id", `previous?.product_id`},
		{"forecast", `previous?.forecast ?? 0`},
		{"optimal_stock", `ceil(forecast * 1.2)`},
		{"reorder_point", `ceil(forecast * 0.5)`},
		{"current_stock", `stock ?? 0`},
		{"reorder", `current_stock <= reorder_point`},
	}},

	// promotion
	{"generate_campaign", "Draft a promotion campaign", []Field{
		{"campaign_type", `(agent_results?.personalization?.strategy ?? "popular") == "personalized" ? "targeted" : "broad"`},
		{"discount", `campaign_type == "targeted" ? 0.15 : 0.05`},
		{"channel", `user_id != nil ? "email" : "banner"`},
	}},
	{"optimize_targeting", "Choose the audience for a campaign", []Field{
		{"segment", `previous?.campaign_type == "targeted" ? "high_affinity" : "all_users"`},
		{"user_ids", `user_id != nil ? [user_id] : []`},
		{"expected_uplift", `(previous?.discount ?? 0.05) * 0.5`},
	}},

	// customer_support
	{"resolve_query", "Classify and answer a support query", []Field{
		{"query", `message ?? text ?? ""`},
		{"category", `lower(query) contains "refund" ? "billing" : lower(query) contains "deliver" ? "shipping" : "general"`},
		{"resolved", `category != "billing"`},
		{"response", `resolved ? "We have looked into your " + category + " question." : "A specialist will follow up on your " + category + " request."`},
	}},
	{"manage_ticket", "Open or close a support ticket", []Field{
		{"category", `previous?.category ?? "general"`},
		{"status", `(previous?.resolved ?? false) ? "closed" : "open"`},
		{"priority", `(agent_results?.sentiment?.label ?? "neutral") == "negative" ? "high" : "normal"`},
	}},
}

// BuiltinRules returns the declarations of every built-in tool.
func BuiltinRules() []RuleSpec {
	return append([]RuleSpec(nil), builtinRules...)
}

// RegisterBuiltins registers a rule tool for each built-in name not already
// taken, so remote tools registered first shadow the local rules.
// clock feeds the now_month variable; nil means time.Now.
func RegisterBuiltins(reg *Registry, engine *expressions.ExprEngine, clock func() time.Time) error {
	if clock == nil {
		clock = time.Now
	}
	env := func() map[string]any {
		return map[string]any{"now_month": int(clock().Month())}
	}
	for _, spec := range builtinRules {
		if reg.Has(spec.Name) {
			continue
		}
		tool, err := NewRuleTool(engine, spec.Name, spec.Description, spec.Fields, WithEnv(env))
		if err != nil {
			return err
		}
		if err := reg.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}
