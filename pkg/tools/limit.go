package tools

import (
	"context"

	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

var limitTypes = []string{"UPPER", "LOWER", "BOTH"}

// LimitStocksTool scans for stocks pinned at the exchange's daily price
// limit.
type LimitStocksTool struct {
	deps *Deps
}

// NewLimitStocksTool creates the limit scan tool.
func NewLimitStocksTool(deps *Deps) *LimitStocksTool {
	return &LimitStocksTool{deps: deps}
}

func (t *LimitStocksTool) Name() string { return "get_limit_stocks" }

func (t *LimitStocksTool) Description() string {
	return "Stocks at their daily limit-up or limit-down price, with sentiment analysis"
}

func (t *LimitStocksTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []Parameter{
			{Name: "limit_type", Type: "string", Description: "Which limit side to report", Default: "BOTH", Enum: limitTypes},
			{Name: "market", Type: "string", Description: "Market to scan", Default: "ALL", Enum: marketNames},
			{Name: "include_history", Type: "boolean", Description: "Include consecutive-limit streaks", Default: false},
		},
	}
}

func (t *LimitStocksTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	limitType, err := stringParam(params, "limit_type", "BOTH", limitTypes...)
	if err != nil {
		return nil, err
	}
	market, err := stringParam(params, "market", "ALL", marketNames...)
	if err != nil {
		return nil, err
	}
	includeHistory, err := boolParam(params, "include_history", false)
	if err != nil {
		return nil, err
	}

	key := t.deps.Strategy.LimitKey(limitType, market, includeHistory)
	result, status, err := t.deps.readThrough(ctx, key, func() (map[string]any, error) {
		upper, lower, analysis, err := t.deps.API.GetLimitStocks(ctx, market, includeHistory)
		if err != nil {
			return nil, err
		}

		result := map[string]any{
			"timestamp":       t.deps.timestamp(),
			"limit_type":      limitType,
			"market":          market,
			"include_history": includeHistory,
			"analysis": map[string]any{
				"upper_count":         analysis.UpperCount,
				"lower_count":         analysis.LowerCount,
				"market_sentiment":    analysis.MarketSentiment,
				"total_volume":        analysis.TotalVolume,
				"theme_concentration": analysis.ThemeCounts,
			},
		}
		if limitType == "UPPER" || limitType == "BOTH" {
			result["upper_limit_stocks"] = limitItemMaps(upper)
		}
		if limitType == "LOWER" || limitType == "BOTH" {
			result["lower_limit_stocks"] = limitItemMaps(lower)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	result["cache_status"] = status
	return result, nil
}

func limitItemMaps(items []kisclient.LimitItem) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, item.ToMap())
	}
	return out
}

var _ Tool = (*LimitStocksTool)(nil)
