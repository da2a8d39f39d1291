package tools

import (
	"context"
)

// MarketSummaryTool reports market-wide advance/decline breadth.
type MarketSummaryTool struct {
	deps *Deps
}

// NewMarketSummaryTool creates the market summary tool.
func NewMarketSummaryTool(deps *Deps) *MarketSummaryTool {
	return &MarketSummaryTool{deps: deps}
}

func (t *MarketSummaryTool) Name() string { return "get_market_summary" }

func (t *MarketSummaryTool) Description() string {
	return "Market-wide advance/decline counts and breadth"
}

func (t *MarketSummaryTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  []Parameter{},
	}
}

func (t *MarketSummaryTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	key := t.deps.Strategy.MarketSummaryKey()
	result, status, err := t.deps.readThrough(ctx, key, func() (map[string]any, error) {
		summary, err := t.deps.API.GetMarketSummary(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"timestamp": t.deps.timestamp(),
			"summary":   summary.ToMap(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result["cache_status"] = status
	return result, nil
}

var _ Tool = (*MarketSummaryTool)(nil)
