package tools

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/whdghk1907/mcp-price-ranking/pkg/cache"
	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

// Cache status values reported in every tool result.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// marketAPI is the slice of the KIS client the tools consume.
type marketAPI interface {
	GetStockPrice(ctx context.Context, stockCode string) (*kisclient.StockPrice, error)
	GetRanking(ctx context.Context, rankingType, market string, count int) ([]kisclient.RankingItem, error)
	GetHighLow(ctx context.Context, market string, breakthroughOnly bool) ([]kisclient.HighLowItem, []kisclient.HighLowItem, kisclient.HighLowAnalysis, error)
	GetLimitStocks(ctx context.Context, market string, includeHistory bool) ([]kisclient.LimitItem, []kisclient.LimitItem, kisclient.LimitAnalysis, error)
	GetMarketSummary(ctx context.Context) (*kisclient.MarketSummary, error)
}

// Deps bundles the shared collaborators every tool needs.
type Deps struct {
	API      marketAPI
	Store    cache.Store
	Strategy *cache.Strategy
	Logger   zerolog.Logger

	now func() time.Time
}

// NewDeps wires the tool dependencies.
func NewDeps(api marketAPI, store cache.Store, strategy *cache.Strategy, logger zerolog.Logger) *Deps {
	return &Deps{
		API:      api,
		Store:    store,
		Strategy: strategy,
		Logger:   logger,
		now:      time.Now,
	}
}

// readThrough runs the standard cache flow: look the key up, fall through
// to fetch on a miss, then store the result under the strategy's TTL.
// Cache failures on either side degrade to a miss; the tool result is
// never lost to a cache problem.
func (d *Deps) readThrough(ctx context.Context, key cache.Key, fetch func() (map[string]any, error)) (map[string]any, string, error) {
	fullKey := key.FullKey()

	cached, err := d.Store.Get(ctx, fullKey)
	if err != nil {
		d.Logger.Warn().Err(err).Str("cache_key", fullKey).Msg("Cache read failed, falling through")
	}
	if result, ok := cached.(map[string]any); ok {
		d.Logger.Debug().Str("cache_key", fullKey).Str("cache_status", CacheHit).Msg("Serving from cache")
		return result, CacheHit, nil
	}

	result, err := fetch()
	if err != nil {
		return nil, CacheMiss, err
	}

	if ok, err := d.Store.Set(ctx, fullKey, result, key.TTL); err != nil || !ok {
		d.Logger.Warn().Err(err).Str("cache_key", fullKey).Msg("Cache write failed")
	}
	d.Logger.Debug().
		Str("cache_key", fullKey).
		Str("cache_status", CacheMiss).
		Dur("ttl", key.TTL).
		Msg("Fetched from upstream")
	return result, CacheMiss, nil
}

// timestamp is the shared result timestamp format.
func (d *Deps) timestamp() string {
	return d.now().Format(time.RFC3339)
}
