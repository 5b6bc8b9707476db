package agents

import "context"

// DataCollectionAgent tracks, aggregates and validates user events.
type DataCollectionAgent struct{ *base }

func (a *DataCollectionAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, lastResult)
}

// PersonalizationAgent turns preferences into recommendations. Requires user_id.
type PersonalizationAgent struct{ *base }

func (a *PersonalizationAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, lastResult)
}

// LoyaltyAgent computes rewards and tier placement.
type LoyaltyAgent struct{ *base }

func (a *LoyaltyAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, lastResult)
}

// PricingAgent prices a product from market signals. Requires product_id.
type PricingAgent struct{ *base }

func (a *PricingAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, lastResult)
}

// SentimentAgent scores free-text feedback.
type SentimentAgent struct{ *base }

func (a *SentimentAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, lastResult)
}

// TrendAgent reports trends and seasonality side by side.
type TrendAgent struct{ *base }

func (a *TrendAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, keyed("trends", "seasonality"))
}

// InventoryAgent forecasts demand and reorder levels.
type InventoryAgent struct{ *base }

func (a *InventoryAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, lastResult)
}

// PromotionAgent drafts a campaign and its targeting.
type PromotionAgent struct{ *base }

func (a *PromotionAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, keyed("campaign", "targeting"))
}

// CustomerSupportAgent resolves a query and tracks the ticket.
type CustomerSupportAgent struct{ *base }

func (a *CustomerSupportAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.run(ctx, input, keyed("resolution", "ticket"))
}

var (
	_ Agent = (*DataCollectionAgent)(nil)
	_ Agent = (*PersonalizationAgent)(nil)
	_ Agent = (*LoyaltyAgent)(nil)
	_ Agent = (*PricingAgent)(nil)
	_ Agent = (*SentimentAgent)(nil)
	_ Agent = (*TrendAgent)(nil)
	_ Agent = (*InventoryAgent)(nil)
	_ Agent = (*PromotionAgent)(nil)
	_ Agent = (*CustomerSupportAgent)(nil)
)
