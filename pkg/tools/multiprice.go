package tools

import (
	"context"

	"github.com/whdghk1907/mcp-price-ranking/pkg/batch"
	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

const maxMultiQuoteCodes = 50

// MultiStockPriceTool fetches quotations for a batch of stocks. Cached
// quotes are served from a single bulk lookup; only the misses go upstream,
// in parallel through the batch fetcher.
type MultiStockPriceTool struct {
	deps    *Deps
	fetcher *batch.Fetcher
}

// NewMultiStockPriceTool creates the batch quote tool.
func NewMultiStockPriceTool(deps *Deps, fetcher *batch.Fetcher) *MultiStockPriceTool {
	return &MultiStockPriceTool{deps: deps, fetcher: fetcher}
}

func (t *MultiStockPriceTool) Name() string { return "get_multi_stock_price" }

func (t *MultiStockPriceTool) Description() string {
	return "Current quotations for up to 50 stocks in one call"
}

func (t *MultiStockPriceTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []Parameter{
			{Name: "stock_codes", Type: "array", Description: "6-digit stock codes, 1 to 50", Required: true},
		},
	}
}

func (t *MultiStockPriceTool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	codes, err := stringSliceParam(params, "stock_codes", 1, maxMultiQuoteCodes)
	if err != nil {
		return nil, err
	}
	for _, code := range codes {
		if !validStockCode(code) {
			return nil, &kisclient.ValidationError{Field: "stock_codes", Message: "each code must be 6 digits"}
		}
	}

	keys := make([]string, len(codes))
	ttl := t.deps.Strategy.StockPriceKey(codes[0]).TTL
	for i, code := range codes {
		keys[i] = t.deps.Strategy.StockPriceKey(code).FullKey()
	}

	cached, err := t.deps.Store.MGet(ctx, keys...)
	if err != nil {
		t.deps.Logger.Warn().Err(err).Msg("Bulk cache read failed, fetching all upstream")
		cached = make([]any, len(codes))
	}

	prices := make(map[string]any, len(codes))
	statuses := make(map[string]string, len(codes))
	var missing []string
	for i, code := range codes {
		if quote, ok := cached[i].(map[string]any); ok {
			prices[code] = quote
			statuses[code] = CacheHit
			continue
		}
		missing = append(missing, code)
	}

	var errored []string
	if len(missing) > 0 {
		results := t.fetcher.FetchQuotes(ctx, missing)

		fetched := make(map[string]any, len(results))
		for _, r := range results {
			if r.Err != nil {
				errored = append(errored, r.StockCode)
				statuses[r.StockCode] = "ERROR"
				continue
			}
			quote := r.Price.ToMap()
			prices[r.StockCode] = quote
			statuses[r.StockCode] = CacheMiss
			fetched[t.deps.Strategy.StockPriceKey(r.StockCode).FullKey()] = quote
		}

		if len(fetched) > 0 {
			if ok, err := t.deps.Store.MSet(ctx, fetched, ttl); err != nil || !ok {
				t.deps.Logger.Warn().Err(err).Msg("Bulk cache write failed")
			}
		}
	}

	return map[string]any{
		"timestamp":    t.deps.timestamp(),
		"prices":       prices,
		"cache_status": statuses,
		"requested":    len(codes),
		"failed":       errored,
	}, nil
}

var _ Tool = (*MultiStockPriceTool)(nil)
