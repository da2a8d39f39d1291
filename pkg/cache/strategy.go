package cache

import (
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// QueryType identifies the domain query a cache key shields.
type QueryType string

const (
	QueryRanking       QueryType = "ranking"
	QueryHighLow       QueryType = "high_low"
	QueryLimit         QueryType = "limit"
	QueryStockPrice    QueryType = "stock_price"
	QueryMarketSummary QueryType = "market_summary"
)

// TTL policy constants.
const (
	// MarketHoursTTL caps all TTLs while the exchange is trading:
	// staleness must be bounded tightly even when the base TTL is long.
	MarketHoursTTL = 30 * time.Second

	// AfterHoursTTL floors all TTLs outside trading hours: upstream data
	// does not change, so long TTLs cut load at no freshness cost.
	AfterHoursTTL = 1800 * time.Second
)

// Exchange trading hours (KRX): weekdays 09:00 to 15:30 inclusive.
const (
	marketOpenHour    = 9
	marketCloseHour   = 15
	marketCloseMinute = 30
)

// baseTTLs is the per-domain base TTL table.
var baseTTLs = map[QueryType]time.Duration{
	QueryRanking:       60 * time.Second,
	QueryHighLow:       300 * time.Second,
	QueryLimit:         30 * time.Second,
	QueryMarketSummary: 120 * time.Second,
	QueryStockPrice:    10 * time.Second,
}

// defaultBaseTTL applies to query types absent from the table.
const defaultBaseTTL = 300 * time.Second

// Key is the immutable cache key value object derived from a query.
type Key struct {
	Prefix string
	Key    string
	TTL    time.Duration
	Tags   []string
}

// FullKey is the stored key: prefix + ":" + key.
func (k Key) FullKey() string {
	return k.Prefix + ":" + k.Key
}

// Query is a request descriptor for the generic KeyFor dispatch. Only the
// fields discriminating for the query's type are consulted.
type Query struct {
	Type             QueryType
	Market           string
	Count            int
	RankingType      string
	HighLowType      string
	LimitType        string
	StockCode        string
	BreakthroughOnly bool
	IncludeHistory   bool
	Filters          map[string]any
}

// Strategy derives deterministic cache keys and market-hours-aware TTLs.
type Strategy struct {
	loc    *time.Location
	logger zerolog.Logger

	now func() time.Time
}

// NewStrategy creates a strategy for the given exchange timezone.
// A nil location defaults to Asia/Seoul, falling back to UTC when the
// timezone database is unavailable.
func NewStrategy(loc *time.Location, logger zerolog.Logger) *Strategy {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation("Asia/Seoul")
		if err != nil {
			logger.Warn().Err(err).Msg("Asia/Seoul timezone unavailable, using UTC")
			loc = time.UTC
		}
	}
	return &Strategy{
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// KeyFor derives the cache key for a domain query.
func (s *Strategy) KeyFor(q Query) Key {
	switch q.Type {
	case QueryRanking:
		return s.RankingKey(q.RankingType, q.Market, q.Count, q.Filters)
	case QueryHighLow:
		return s.HighLowKey(q.HighLowType, q.Market, q.Count, q.BreakthroughOnly)
	case QueryLimit:
		return s.LimitKey(q.LimitType, q.Market, q.IncludeHistory)
	case QueryStockPrice:
		return s.StockPriceKey(q.StockCode)
	default:
		return s.MarketSummaryKey()
	}
}

// RankingKey builds the key for a ranking query. Arbitrary extra filters
// fold into an 8-character stable hash so filter insertion order never
// affects the key.
func (s *Strategy) RankingKey(rankingType, market string, count int, filters map[string]any) Key {
	return Key{
		Prefix: string(QueryRanking),
		Key:    fmt.Sprintf("%s:%s:%d:%s", rankingType, market, count, hashFilters(filters)),
		TTL:    s.DynamicTTL(QueryRanking),
		Tags:   []string{"market_data", "ranking", strings.ToLower(market)},
	}
}

// HighLowKey builds the key for a 52-week high/low query.
func (s *Strategy) HighLowKey(typeParam, market string, count int, breakthroughOnly bool) Key {
	return Key{
		Prefix: string(QueryHighLow),
		Key:    fmt.Sprintf("%s:%s:%d:%t", typeParam, market, count, breakthroughOnly),
		TTL:    s.DynamicTTL(QueryHighLow),
		Tags:   []string{"market_data", "high_low", strings.ToLower(market)},
	}
}

// LimitKey builds the key for a limit-up/limit-down query.
func (s *Strategy) LimitKey(limitType, market string, includeHistory bool) Key {
	return Key{
		Prefix: string(QueryLimit),
		Key:    fmt.Sprintf("%s:%s:%t", limitType, market, includeHistory),
		TTL:    s.DynamicTTL(QueryLimit),
		Tags:   []string{"market_data", "limit", strings.ToLower(market)},
	}
}

// StockPriceKey builds the key for a single quotation.
func (s *Strategy) StockPriceKey(stockCode string) Key {
	return Key{
		Prefix: string(QueryStockPrice),
		Key:    stockCode,
		TTL:    s.DynamicTTL(QueryStockPrice),
		Tags:   []string{"market_data", "stock_price"},
	}
}

// MarketSummaryKey builds the key for the market summary.
func (s *Strategy) MarketSummaryKey() Key {
	return Key{
		Prefix: string(QueryMarketSummary),
		Key:    "summary",
		TTL:    s.DynamicTTL(QueryMarketSummary),
		Tags:   []string{"market_data", "summary"},
	}
}

// DynamicTTL computes the TTL for a query type: the base table value,
// capped at MarketHoursTTL while the exchange trades and floored at
// AfterHoursTTL otherwise.
func (s *Strategy) DynamicTTL(qt QueryType) time.Duration {
	base, ok := baseTTLs[qt]
	if !ok {
		base = defaultBaseTTL
	}

	if s.inMarketHours(s.now().In(s.loc)) {
		return min(base, MarketHoursTTL)
	}
	return max(base, AfterHoursTTL)
}

// inMarketHours reports whether t falls within KRX trading hours:
// weekday, 09:00 through 15:30 inclusive of the close minute.
func (s *Strategy) inMarketHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	if t.Hour() < marketOpenHour || t.Hour() > marketCloseHour {
		return false
	}
	if t.Hour() == marketCloseHour && t.Minute() > marketCloseMinute {
		return false
	}
	return true
}

// invalidationPatterns maps named market events to the key globs they
// invalidate.
var invalidationPatterns = map[string][]string{
	"market_open":        {"ranking:*", "high_low:*", "limit:*", "market_summary:*"},
	"market_close":       {"ranking:*", "market_summary:*"},
	"circuit_breaker":    {"ranking:*", "stock_price:*"},
	"system_maintenance": {"*"},
}

// InvalidationPatterns returns the key globs invalidated by a named event.
// Unknown events map to an empty set.
func (s *Strategy) InvalidationPatterns(event string) []string {
	return invalidationPatterns[event]
}

// InvalidateEvent deletes all keys matched by the event's patterns.
func InvalidateEvent(ctx context.Context, store Store, strategy *Strategy, event string) (int, error) {
	total := 0
	for _, pattern := range strategy.InvalidationPatterns(event) {
		n, err := store.DeletePattern(ctx, pattern)
		total += n
		if err != nil {
			return total, err
		}
	}

	CacheInvalidations.WithLabelValues(event).Add(float64(total))
	strategy.logger.Info().
		Str("event", event).
		Int("deleted", total).
		Msg("Invalidated cache entries")
	return total, nil
}

// hashFilters folds arbitrary filters into an 8-character stable hash.
// Keys are sorted before hashing so insertion order never changes the
// result. Empty filters yield the sentinel "no_filter".
func hashFilters(filters map[string]any) string {
	if len(filters) == 0 {
		return "no_filter"
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fmt.Sprint(filters[k]))
	}

	sum := md5.Sum([]byte(sb.String()))
	return fmt.Sprintf("%x", sum)[:8]
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func max(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
