package tools

import (
	"context"

	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

// validStockCode mirrors the client's check so malformed codes are rejected
// before the cache is touched.
func validStockCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// StockPriceTool fetches a single stock quotation.
type StockPriceTool struct {
	deps *Deps
}

// NewStockPriceTool creates the single-quote tool.
func NewStockPriceTool(deps *Deps) *StockPriceTool {
	return &StockPriceTool{deps: deps}
}

func (t *StockPriceTool) Name() string { return "get_stock_price" }

func (t *StockPriceTool) Description() string {
	return "Current quotation for a single stock by its 6-digit code"
}

func (t *StockPriceTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []Parameter{
			{Name: "stock_code", Type: "string", Description: "6-digit stock code", Required: true},
		},
	}
}

func (t *StockPriceTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	stockCode, err := stringParam(params, "stock_code", "")
	if err != nil {
		return nil, err
	}
	if !validStockCode(stockCode) {
		return nil, &kisclient.ValidationError{Field: "stock_code", Message: "must be 6 digits"}
	}

	key := t.deps.Strategy.StockPriceKey(stockCode)
	result, status, err := t.deps.readThrough(ctx, key, func() (map[string]any, error) {
		price, err := t.deps.API.GetStockPrice(ctx, stockCode)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"timestamp": t.deps.timestamp(),
			"price":     price.ToMap(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result["cache_status"] = status
	return result, nil
}

var _ Tool = (*StockPriceTool)(nil)
