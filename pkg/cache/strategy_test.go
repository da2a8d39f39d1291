package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStrategy(t *testing.T) *Strategy {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("timezone database unavailable: %v", err)
	}
	return NewStrategy(loc, zerolog.Nop())
}

func seoulTime(t *testing.T, s string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("timezone database unavailable: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04", s, loc)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return ts
}

func TestRankingKey_Deterministic(t *testing.T) {
	s := newTestStrategy(t)

	k1 := s.RankingKey("TOP_GAINERS", "KOSPI", 20, map[string]any{
		"min_price": 1000, "max_price": 50000,
	})
	k2 := s.RankingKey("TOP_GAINERS", "KOSPI", 20, map[string]any{
		"max_price": 50000, "min_price": 1000,
	})

	if k1.FullKey() != k2.FullKey() {
		t.Errorf("filter order changed key: %q vs %q", k1.FullKey(), k2.FullKey())
	}
	if !strings.HasPrefix(k1.FullKey(), "ranking:TOP_GAINERS:KOSPI:20:") {
		t.Errorf("unexpected key shape: %q", k1.FullKey())
	}

	hash := k1.Key[strings.LastIndex(k1.Key, ":")+1:]
	if len(hash) != 8 {
		t.Errorf("filter hash length = %d, want 8: %q", len(hash), hash)
	}
}

func TestRankingKey_NoFilters(t *testing.T) {
	s := newTestStrategy(t)

	k := s.RankingKey("MOST_ACTIVE", "ALL", 10, nil)
	want := "ranking:MOST_ACTIVE:ALL:10:no_filter"
	if k.FullKey() != want {
		t.Errorf("FullKey() = %q, want %q", k.FullKey(), want)
	}
}

func TestRankingKey_DifferentFiltersDiffer(t *testing.T) {
	s := newTestStrategy(t)

	k1 := s.RankingKey("TOP_GAINERS", "KOSPI", 20, map[string]any{"min_price": 1000})
	k2 := s.RankingKey("TOP_GAINERS", "KOSPI", 20, map[string]any{"min_price": 2000})
	if k1.FullKey() == k2.FullKey() {
		t.Errorf("different filters produced same key: %q", k1.FullKey())
	}
}

func TestKeyShapes(t *testing.T) {
	s := newTestStrategy(t)

	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"high_low", s.HighLowKey("HIGH", "KOSDAQ", 30, true), "high_low:HIGH:KOSDAQ:30:true"},
		{"limit", s.LimitKey("UPPER", "ALL", false), "limit:UPPER:ALL:false"},
		{"stock_price", s.StockPriceKey("005930"), "stock_price:005930"},
		{"market_summary", s.MarketSummaryKey(), "market_summary:summary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.FullKey(); got != tt.want {
				t.Errorf("FullKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyFor_Dispatch(t *testing.T) {
	s := newTestStrategy(t)

	k := s.KeyFor(Query{Type: QueryStockPrice, StockCode: "000660"})
	if k.FullKey() != "stock_price:000660" {
		t.Errorf("KeyFor stock_price = %q", k.FullKey())
	}

	k = s.KeyFor(Query{Type: QueryHighLow, HighLowType: "BOTH", Market: "ALL", Count: 20})
	if k.FullKey() != "high_low:BOTH:ALL:20:false" {
		t.Errorf("KeyFor high_low = %q", k.FullKey())
	}
}

func TestDynamicTTL_MarketHours(t *testing.T) {
	s := newTestStrategy(t)

	tests := []struct {
		name string
		at   string
		qt   QueryType
		want time.Duration
	}{
		// Tuesday 10:30 KST, trading: long bases capped at 30s.
		{"trading high_low capped", "2026-08-25 10:30", QueryHighLow, 30 * time.Second},
		{"trading ranking capped", "2026-08-25 10:30", QueryRanking, 30 * time.Second},
		// Short bases keep their value during trading.
		{"trading stock_price", "2026-08-25 10:30", QueryStockPrice, 10 * time.Second},
		{"trading limit", "2026-08-25 10:30", QueryLimit, 30 * time.Second},
		// Close minute is inclusive.
		{"close minute inclusive", "2026-08-25 15:30", QueryStockPrice, 10 * time.Second},
		{"one past close", "2026-08-25 15:31", QueryStockPrice, 1800 * time.Second},
		{"before open", "2026-08-25 08:59", QueryRanking, 1800 * time.Second},
		{"at open", "2026-08-25 09:00", QueryRanking, 30 * time.Second},
		// Saturday midday: floored at 1800s regardless of base.
		{"weekend", "2026-08-29 11:00", QueryStockPrice, 1800 * time.Second},
		{"weekend long base", "2026-08-29 11:00", QueryHighLow, 1800 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := seoulTime(t, tt.at)
			s.now = func() time.Time { return at }
			if got := s.DynamicTTL(tt.qt); got != tt.want {
				t.Errorf("DynamicTTL(%s at %s) = %v, want %v", tt.qt, tt.at, got, tt.want)
			}
		})
	}
}

func TestInvalidationPatterns(t *testing.T) {
	s := newTestStrategy(t)

	tests := []struct {
		event string
		want  int
	}{
		{"market_open", 4},
		{"market_close", 2},
		{"circuit_breaker", 2},
		{"system_maintenance", 1},
		{"unknown_event", 0},
	}

	for _, tt := range tests {
		got := s.InvalidationPatterns(tt.event)
		if len(got) != tt.want {
			t.Errorf("InvalidationPatterns(%q) = %v, want %d patterns", tt.event, got, tt.want)
		}
	}
}

func TestInvalidateEvent(t *testing.T) {
	s := newTestStrategy(t)
	store := NewMemoryStore(zerolog.Nop())
	defer store.Close()

	ctx := context.Background()
	store.Set(ctx, "ranking:TOP_GAINERS:ALL:20:no_filter", "a", time.Minute)
	store.Set(ctx, "market_summary:summary", "b", time.Minute)
	store.Set(ctx, "stock_price:005930", "c", time.Minute)

	n, err := InvalidateEvent(ctx, store, s, "market_close")
	if err != nil {
		t.Fatalf("InvalidateEvent: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d entries, want 2", n)
	}

	exists, _ := store.Exists(ctx, "stock_price:005930")
	if !exists {
		t.Error("stock_price key should survive market_close")
	}
	exists, _ = store.Exists(ctx, "ranking:TOP_GAINERS:ALL:20:no_filter")
	if exists {
		t.Error("ranking key should be invalidated on market_close")
	}
}
