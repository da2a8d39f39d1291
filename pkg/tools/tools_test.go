package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/whdghk1907/mcp-price-ranking/pkg/batch"
	"github.com/whdghk1907/mcp-price-ranking/pkg/cache"
	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

// stubAPI serves canned market data and counts upstream calls.
type stubAPI struct {
	mu           sync.Mutex
	rankingCalls int
	priceCalls   int
	highLowCalls int
	limitCalls   int
	summaryCalls int

	rankingErr error
	priceErr   map[string]error
}

func (s *stubAPI) GetRanking(ctx context.Context, rankingType, market string, count int) ([]kisclient.RankingItem, error) {
	s.mu.Lock()
	s.rankingCalls++
	s.mu.Unlock()
	if s.rankingErr != nil {
		return nil, s.rankingErr
	}
	return []kisclient.RankingItem{
		{Rank: 1, StockCode: "005930", StockName: "삼성전자", CurrentPrice: 74500, ChangeRate: 5.2, Volume: 1000000},
		{Rank: 2, StockCode: "900001", StockName: "저가주", CurrentPrice: 800, ChangeRate: 4.1, Volume: 500},
	}, nil
}

func (s *stubAPI) GetStockPrice(ctx context.Context, code string) (*kisclient.StockPrice, error) {
	s.mu.Lock()
	s.priceCalls++
	s.mu.Unlock()
	if err := s.priceErr[code]; err != nil {
		return nil, err
	}
	return &kisclient.StockPrice{StockCode: code, CurrentPrice: 74500, Timestamp: time.Now()}, nil
}

func (s *stubAPI) GetHighLow(ctx context.Context, market string, breakthroughOnly bool) ([]kisclient.HighLowItem, []kisclient.HighLowItem, kisclient.HighLowAnalysis, error) {
	s.mu.Lock()
	s.highLowCalls++
	s.mu.Unlock()
	highs := []kisclient.HighLowItem{{StockCode: "005930", IsNewHigh: true}}
	lows := []kisclient.HighLowItem{{StockCode: "000001", IsNewLow: true}}
	return highs, lows, kisclient.AnalyzeHighLow(highs, lows), nil
}

func (s *stubAPI) GetLimitStocks(ctx context.Context, market string, includeHistory bool) ([]kisclient.LimitItem, []kisclient.LimitItem, kisclient.LimitAnalysis, error) {
	s.mu.Lock()
	s.limitCalls++
	s.mu.Unlock()
	upper := []kisclient.LimitItem{{StockCode: "100001", LimitType: "UPPER", VolumeAtLimit: 1000}}
	return upper, nil, kisclient.AnalyzeLimits(upper, nil), nil
}

func (s *stubAPI) GetMarketSummary(ctx context.Context) (*kisclient.MarketSummary, error) {
	s.mu.Lock()
	s.summaryCalls++
	s.mu.Unlock()
	return &kisclient.MarketSummary{Advancing: 500, Declining: 300, Unchanged: 100, Timestamp: time.Now()}, nil
}

func newTestDeps(t *testing.T, api *stubAPI) (*Deps, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore(zerolog.Nop())
	t.Cleanup(func() { store.Close() })
	strategy := cache.NewStrategy(nil, zerolog.Nop())
	return NewDeps(api, store, strategy, zerolog.Nop()), store
}

func TestPriceRankingTool_ReadThrough(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewPriceRankingTool(deps)

	params := map[string]any{"ranking_type": "TOP_GAINERS", "market": "KOSPI", "count": float64(20)}

	first, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first["cache_status"] != CacheMiss {
		t.Errorf("first call cache_status = %v, want MISS", first["cache_status"])
	}

	second, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if second["cache_status"] != CacheHit {
		t.Errorf("second call cache_status = %v, want HIT", second["cache_status"])
	}
	if api.rankingCalls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second call must be served from cache)", api.rankingCalls)
	}
}

func TestPriceRankingTool_Filters(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewPriceRankingTool(deps)

	result, err := tool.Execute(context.Background(), map[string]any{
		"min_price": float64(1000),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	ranking, ok := result["ranking"].([]any)
	if !ok {
		t.Fatalf("ranking missing: %#v", result)
	}
	if len(ranking) != 1 {
		t.Fatalf("got %d entries, want 1 after min_price filter", len(ranking))
	}

	// A different filter must produce a different cache entry, not a hit
	// on the filtered one.
	result, err = tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute without filter: %v", err)
	}
	if result["cache_status"] != CacheMiss {
		t.Errorf("unfiltered call cache_status = %v, want MISS", result["cache_status"])
	}
}

func TestPriceRankingTool_Validation(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewPriceRankingTool(deps)

	tests := []map[string]any{
		{"ranking_type": "BEST_VIBES"},
		{"market": "NASDAQ"},
		{"count": float64(0)},
		{"count": float64(101)},
		{"count": "twenty"},
	}

	for _, params := range tests {
		_, err := tool.Execute(context.Background(), params)
		var valErr *kisclient.ValidationError
		if !errors.As(err, &valErr) {
			t.Errorf("Execute(%v) err = %v, want *ValidationError", params, err)
		}
	}
	if api.rankingCalls != 0 {
		t.Errorf("upstream calls = %d, want 0 for rejected parameters", api.rankingCalls)
	}
}

func TestPriceRankingTool_UpstreamErrorNotCached(t *testing.T) {
	api := &stubAPI{rankingErr: &kisclient.RateLimitError{RetryAfter: 60}}
	deps, _ := newTestDeps(t, api)
	tool := NewPriceRankingTool(deps)

	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected upstream error")
	}

	// Clear the fault: the next call must reach upstream again, proving
	// the failure was never cached.
	api.rankingErr = nil
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute after fault cleared: %v", err)
	}
	if result["cache_status"] != CacheMiss {
		t.Errorf("cache_status = %v, want MISS", result["cache_status"])
	}
	if api.rankingCalls != 2 {
		t.Errorf("upstream calls = %d, want 2", api.rankingCalls)
	}
}

func TestHighLowTool_TypeSelectsSides(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewHighLow52WeekTool(deps)

	result, err := tool.Execute(context.Background(), map[string]any{"type": "HIGH"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := result["high_stocks"]; !ok {
		t.Error("type=HIGH should include high_stocks")
	}
	if _, ok := result["low_stocks"]; ok {
		t.Error("type=HIGH should not include low_stocks")
	}

	result, err = tool.Execute(context.Background(), map[string]any{"type": "BOTH"})
	if err != nil {
		t.Fatalf("Execute BOTH: %v", err)
	}
	if _, ok := result["low_stocks"]; !ok {
		t.Error("type=BOTH should include low_stocks")
	}
}

func TestLimitStocksTool(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewLimitStocksTool(deps)

	result, err := tool.Execute(context.Background(), map[string]any{"limit_type": "UPPER"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	upper, ok := result["upper_limit_stocks"].([]any)
	if !ok || len(upper) != 1 {
		t.Errorf("upper_limit_stocks = %#v, want one entry", result["upper_limit_stocks"])
	}
	if _, ok := result["lower_limit_stocks"]; ok {
		t.Error("limit_type=UPPER should not include lower_limit_stocks")
	}
}

func TestStockPriceTool_Validation(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewStockPriceTool(deps)

	for _, code := range []string{"", "123", "abcdef", "1234567"} {
		_, err := tool.Execute(context.Background(), map[string]any{"stock_code": code})
		var valErr *kisclient.ValidationError
		if !errors.As(err, &valErr) {
			t.Errorf("code %q: err = %v, want *ValidationError", code, err)
		}
	}
	if api.priceCalls != 0 {
		t.Errorf("upstream calls = %d, want 0", api.priceCalls)
	}
}

func TestStockPriceTool_ReadThrough(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewStockPriceTool(deps)

	params := map[string]any{"stock_code": "005930"}
	if _, err := tool.Execute(context.Background(), params); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if result["cache_status"] != CacheHit {
		t.Errorf("cache_status = %v, want HIT", result["cache_status"])
	}
	if api.priceCalls != 1 {
		t.Errorf("upstream calls = %d, want 1", api.priceCalls)
	}
}

func TestMultiStockPriceTool(t *testing.T) {
	api := &stubAPI{priceErr: map[string]error{"999999": errors.New("halted")}}
	deps, _ := newTestDeps(t, api)
	fetcher := batch.NewFetcher(api, batch.DefaultConfig(), zerolog.Nop())
	tool := NewMultiStockPriceTool(deps, fetcher)

	params := map[string]any{"stock_codes": []any{"005930", "000660", "999999"}}
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	statuses := result["cache_status"].(map[string]string)
	if statuses["005930"] != CacheMiss || statuses["000660"] != CacheMiss {
		t.Errorf("first call statuses = %v, want MISS for healthy codes", statuses)
	}
	if statuses["999999"] != "ERROR" {
		t.Errorf("failing code status = %q, want ERROR", statuses["999999"])
	}

	failed := result["failed"].([]string)
	if len(failed) != 1 || failed[0] != "999999" {
		t.Errorf("failed = %v, want [999999]", failed)
	}

	// Second call: the two cached quotes hit, only the failed one is
	// retried upstream.
	callsBefore := api.priceCalls
	result, err = tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	statuses = result["cache_status"].(map[string]string)
	if statuses["005930"] != CacheHit || statuses["000660"] != CacheHit {
		t.Errorf("second call statuses = %v, want HIT for cached codes", statuses)
	}
	if api.priceCalls != callsBefore+1 {
		t.Errorf("upstream calls grew by %d, want 1 (only the failed code)", api.priceCalls-callsBefore)
	}
}

func TestMultiStockPriceTool_Validation(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewMultiStockPriceTool(deps, batch.NewFetcher(api, batch.DefaultConfig(), zerolog.Nop()))

	var valErr *kisclient.ValidationError
	if _, err := tool.Execute(context.Background(), map[string]any{}); !errors.As(err, &valErr) {
		t.Errorf("missing stock_codes: err = %v, want *ValidationError", err)
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"stock_codes": []any{}}); !errors.As(err, &valErr) {
		t.Errorf("empty stock_codes: err = %v, want *ValidationError", err)
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"stock_codes": []any{"bad"}}); !errors.As(err, &valErr) {
		t.Errorf("malformed code: err = %v, want *ValidationError", err)
	}
}

func TestMarketSummaryTool(t *testing.T) {
	api := &stubAPI{}
	deps, _ := newTestDeps(t, api)
	tool := NewMarketSummaryTool(deps)

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	summary, ok := result["summary"].(map[string]any)
	if !ok {
		t.Fatalf("summary missing: %#v", result)
	}
	if summary["market_breadth"] != "POSITIVE" {
		t.Errorf("market_breadth = %v, want POSITIVE", summary["market_breadth"])
	}

	if _, err := tool.Execute(context.Background(), nil); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if api.summaryCalls != 1 {
		t.Errorf("upstream calls = %d, want 1", api.summaryCalls)
	}
}
