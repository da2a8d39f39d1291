package tools

import (
	"context"
	"sort"

	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

// marketNames and rankingTypeNames are the published enums, derived from
// the client's code tables.
var (
	marketNames      = sortedKeys(kisclient.Markets)
	rankingTypeNames = sortedKeys(kisclient.RankingTypes)
)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PriceRankingTool ranks stocks by price movement, with optional price and
// volume floors applied after the upstream fetch.
type PriceRankingTool struct {
	deps *Deps
}

// NewPriceRankingTool creates the ranking tool.
func NewPriceRankingTool(deps *Deps) *PriceRankingTool {
	return &PriceRankingTool{deps: deps}
}

func (t *PriceRankingTool) Name() string { return "get_price_change_ranking" }

func (t *PriceRankingTool) Description() string {
	return "Stock ranking by price movement (gainers, losers, volatility, volume)"
}

func (t *PriceRankingTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []Parameter{
			{Name: "ranking_type", Type: "string", Description: "Ranking criterion", Default: "TOP_GAINERS", Enum: rankingTypeNames},
			{Name: "market", Type: "string", Description: "Market to rank", Default: "ALL", Enum: marketNames},
			{Name: "count", Type: "integer", Description: "Number of entries", Default: 20, Minimum: f64(1), Maximum: f64(100)},
			{Name: "min_price", Type: "integer", Description: "Minimum current price filter"},
			{Name: "min_volume", Type: "integer", Description: "Minimum volume filter"},
		},
	}
}

func (t *PriceRankingTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	rankingType, err := stringParam(params, "ranking_type", "TOP_GAINERS", rankingTypeNames...)
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
	minPrice, err := intParam(params, "min_price", 0, 0, 1<<40)
	if err != nil {
		return nil, err
	}
	minVolume, err := intParam(params, "min_volume", 0, 0, 1<<40)
	if err != nil {
		return nil, err
	}

	filters := map[string]any{}
	if minPrice > 0 {
		filters["min_price"] = minPrice
	}
	if minVolume > 0 {
		filters["min_volume"] = minVolume
	}

	key := t.deps.Strategy.RankingKey(rankingType, market, count, filters)
	result, status, err := t.deps.readThrough(ctx, key, func() (map[string]any, error) {
		items, err := t.deps.API.GetRanking(ctx, rankingType, market, count)
		if err != nil {
			return nil, err
		}

		ranking := make([]any, 0, len(items))
		for _, item := range items {
			if minPrice > 0 && item.CurrentPrice < int64(minPrice) {
				continue
			}
			if minVolume > 0 && item.Volume < int64(minVolume) {
				continue
			}
			ranking = append(ranking, item.ToMap())
		}

		return map[string]any{
			"timestamp":    t.deps.timestamp(),
			"ranking_type": rankingType,
			"market":       market,
			"count":        len(ranking),
			"filters":      filters,
			"ranking":      ranking,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result["cache_status"] = status
	return result, nil
}

func f64(v float64) *float64 { return &v }

var _ Tool = (*PriceRankingTool)(nil)
