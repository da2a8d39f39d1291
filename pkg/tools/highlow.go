package tools

import (
	"context"

	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

var highLowTypes = []string{"HIGH", "LOW", "BOTH"}

// HighLow52WeekTool scans for stocks at or near their 52-week extremes.
type HighLow52WeekTool struct {
	deps *Deps
}

// NewHighLow52WeekTool creates the 52-week scan tool.
func NewHighLow52WeekTool(deps *Deps) *HighLow52WeekTool {
	return &HighLow52WeekTool{deps: deps}
}

func (t *HighLow52WeekTool) Name() string { return "get_52week_high_low" }

func (t *HighLow52WeekTool) Description() string {
	return "Stocks at or near their 52-week high or low, with breadth analysis"
}

func (t *HighLow52WeekTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []Parameter{
			{Name: "type", Type: "string", Description: "Which extreme to report", Default: "BOTH", Enum: highLowTypes},
			{Name: "market", Type: "string", Description: "Market to scan", Default: "ALL", Enum: marketNames},
			{Name: "count", Type: "integer", Description: "Max entries per side", Default: 20, Minimum: f64(1), Maximum: f64(100)},
			{Name: "breakthrough_only", Type: "boolean", Description: "Only stocks that newly crossed the bound today", Default: false},
		},
	}
}

func (t *HighLow52WeekTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	typeParam, err := stringParam(params, "type", "BOTH", highLowTypes...)
	if err != nil {
		return nil, err
	}
	market, err := stringParam(params, "market", "ALL", marketNames...)
	if err != nil {
		return nil, err
	}
	count, err := intParam(params, "count", 20, 1, 100)
	if err != nil {
		return nil, err
	}
	breakthroughOnly, err := boolParam(params, "breakthrough_only", false)
	if err != nil {
		return nil, err
	}

	key := t.deps.Strategy.HighLowKey(typeParam, market, count, breakthroughOnly)
	result, status, err := t.deps.readThrough(ctx, key, func() (map[string]any, error) {
		highs, lows, analysis, err := t.deps.API.GetHighLow(ctx, market, breakthroughOnly)
		if err != nil {
			return nil, err
		}

		result := map[string]any{
			"timestamp":         t.deps.timestamp(),
			"type":              typeParam,
			"market":            market,
			"breakthrough_only": breakthroughOnly,
			"analysis": map[string]any{
				"new_highs_count": analysis.NewHighsCount,
				"new_lows_count":  analysis.NewLowsCount,
				"high_low_ratio":  analysis.HighLowRatio,
				"market_breadth":  analysis.MarketBreadth,
				"sector_analysis": analysis.SectorCounts,
			},
		}
		if typeParam == "HIGH" || typeParam == "BOTH" {
			result["high_stocks"] = itemMaps(trimHighLow(highs, count))
		}
		if typeParam == "LOW" || typeParam == "BOTH" {
			result["low_stocks"] = itemMaps(trimHighLow(lows, count))
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	result["cache_status"] = status
	return result, nil
}

func trimHighLow(items []kisclient.HighLowItem, count int) []kisclient.HighLowItem {
	if len(items) > count {
		return items[:count]
	}
	return items
}

func itemMaps(items []kisclient.HighLowItem) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, item.ToMap())
	}
	return out
}

var _ Tool = (*HighLow52WeekTool)(nil)
