package tools

import (
	"github.com/whdghk1907/mcp-price-ranking/pkg/batch"
)

// RegisterDefaults registers the full tool set under their own names.
func RegisterDefaults(r *Registry, deps *Deps, fetcher *batch.Fetcher) error {
	all := []Tool{
		NewPriceRankingTool(deps),
		NewHighLow52WeekTool(deps),
		NewLimitStocksTool(deps),
		NewStockPriceTool(deps),
		NewMultiStockPriceTool(deps, fetcher),
		NewMarketSummaryTool(deps),
	}

	for _, tool := range all {
		if err := r.Register(tool.Name(), tool); err != nil {
			return err
		}
	}
	return nil
}
