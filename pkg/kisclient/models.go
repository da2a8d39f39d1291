package kisclient

import (
	"fmt"
	"strconv"
	"time"
)

// StockPrice is a single stock quotation.
type StockPrice struct {
	StockCode    string    `json:"stock_code"`
	StockName    string    `json:"stock_name"`
	CurrentPrice int64     `json:"current_price"`
	Change       int64     `json:"change"`
	ChangeRate   float64   `json:"change_rate"`
	Volume       int64     `json:"volume"`
	High         int64     `json:"high"`
	Low          int64     `json:"low"`
	Open         int64     `json:"open"`
	Timestamp    time.Time `json:"timestamp"`
}

// PreviousClose derives the prior session close.
func (p StockPrice) PreviousClose() int64 {
	return p.CurrentPrice - p.Change
}

// TradingValue derives the traded value.
func (p StockPrice) TradingValue() int64 {
	return p.CurrentPrice * p.Volume
}

// Volatility is the intraday range relative to the low, in percent.
func (p StockPrice) Volatility() float64 {
	if p.Low == 0 {
		return 0
	}
	return float64(p.High-p.Low) / float64(p.Low) * 100
}

// ToMap flattens the quote with its derived fields.
func (p StockPrice) ToMap() map[string]any {
	return map[string]any{
		"stock_code":     p.StockCode,
		"stock_name":     p.StockName,
		"current_price":  p.CurrentPrice,
		"previous_close": p.PreviousClose(),
		"change":         p.Change,
		"change_rate":    p.ChangeRate,
		"volume":         p.Volume,
		"trading_value":  p.TradingValue(),
		"high":           p.High,
		"low":            p.Low,
		"open":           p.Open,
		"volatility":     p.Volatility(),
		"timestamp":      p.Timestamp.Format(time.RFC3339),
	}
}

// RankingItem is a single ranking row.
type RankingItem struct {
	Rank         int     `json:"rank"`
	StockCode    string  `json:"stock_code"`
	StockName    string  `json:"stock_name"`
	CurrentPrice int64   `json:"current_price"`
	Change       int64   `json:"change"`
	ChangeRate   float64 `json:"change_rate"`
	Volume       int64   `json:"volume"`
	High         int64   `json:"high"`
	Low          int64   `json:"low"`
	Open         int64   `json:"open"`
	Sector       string  `json:"sector,omitempty"`
}

// TradingValue derives the traded value.
func (r RankingItem) TradingValue() int64 {
	return r.CurrentPrice * r.Volume
}

// ToMap flattens the row with its derived fields.
func (r RankingItem) ToMap() map[string]any {
	return map[string]any{
		"rank":           r.Rank,
		"stock_code":     r.StockCode,
		"stock_name":     r.StockName,
		"current_price":  r.CurrentPrice,
		"previous_close": r.CurrentPrice - r.Change,
		"change":         r.Change,
		"change_rate":    r.ChangeRate,
		"volume":         r.Volume,
		"trading_value":  r.TradingValue(),
		"high":           r.High,
		"low":            r.Low,
		"open":           r.Open,
		"sector":         r.Sector,
	}
}

// HighLowItem is a stock at or near its 52-week high or low.
type HighLowItem struct {
	StockCode    string  `json:"stock_code"`
	StockName    string  `json:"stock_name"`
	CurrentPrice int64   `json:"current_price"`
	Week52High   int64   `json:"week_52_high"`
	Week52Low    int64   `json:"week_52_low"`
	IsNewHigh    bool    `json:"is_new_high"`
	IsNewLow     bool    `json:"is_new_low"`
	Volume       int64   `json:"volume"`
	Sector       string  `json:"sector,omitempty"`
	VolumeRatio  float64 `json:"volume_ratio"`
}

// PositionInRange is where the current price sits inside the 52-week
// range, 0..100 percent.
func (h HighLowItem) PositionInRange() float64 {
	if h.Week52High == h.Week52Low {
		return 50
	}
	return float64(h.CurrentPrice-h.Week52Low) / float64(h.Week52High-h.Week52Low) * 100
}

// HighBreakthroughRate is the move past the 52-week high in percent
// (negative when below the high).
func (h HighLowItem) HighBreakthroughRate() float64 {
	if h.Week52High == 0 {
		return 0
	}
	return float64(h.CurrentPrice-h.Week52High) / float64(h.Week52High) * 100
}

// ToMap flattens the item with its derived fields.
func (h HighLowItem) ToMap() map[string]any {
	return map[string]any{
		"stock_code":             h.StockCode,
		"stock_name":             h.StockName,
		"current_price":          h.CurrentPrice,
		"week_52_high":           h.Week52High,
		"week_52_low":            h.Week52Low,
		"is_new_high":            h.IsNewHigh,
		"is_new_low":             h.IsNewLow,
		"high_breakthrough_rate": h.HighBreakthroughRate(),
		"position_in_range":      h.PositionInRange(),
		"volume":                 h.Volume,
		"volume_ratio":           h.VolumeRatio,
		"sector":                 h.Sector,
	}
}

// HighLowAnalysis summarizes a 52-week scan.
type HighLowAnalysis struct {
	NewHighsCount int            `json:"new_highs_count"`
	NewLowsCount  int            `json:"new_lows_count"`
	HighLowRatio  float64        `json:"high_low_ratio"`
	MarketBreadth string         `json:"market_breadth"`
	SectorCounts  map[string]int `json:"sector_analysis"`
}

// AnalyzeHighLow builds the scan summary from high and low hit lists.
func AnalyzeHighLow(highs, lows []HighLowItem) HighLowAnalysis {
	breadth := "NEGATIVE"
	if len(highs) > len(lows) {
		breadth = "POSITIVE"
	}

	denom := len(lows)
	if denom == 0 {
		denom = 1
	}

	sectors := make(map[string]int)
	for _, s := range append(append([]HighLowItem{}, highs...), lows...) {
		sector := s.Sector
		if sector == "" {
			sector = "UNKNOWN"
		}
		sectors[sector]++
	}

	return HighLowAnalysis{
		NewHighsCount: len(highs),
		NewLowsCount:  len(lows),
		HighLowRatio:  float64(len(highs)) / float64(denom),
		MarketBreadth: breadth,
		SectorCounts:  sectors,
	}
}

// LimitItem is a stock pinned at its daily limit-up or limit-down price.
type LimitItem struct {
	StockCode         string   `json:"stock_code"`
	StockName         string   `json:"stock_name"`
	CurrentPrice      int64    `json:"current_price"`
	LimitPrice        int64    `json:"limit_price"`
	PreviousClose     int64    `json:"previous_close"`
	LimitType         string   `json:"limit_type"` // UPPER or LOWER
	HitTime           string   `json:"hit_time"`
	VolumeAtLimit     int64    `json:"volume_at_limit"`
	BuyOrders         int64    `json:"buy_orders"`
	SellOrders        int64    `json:"sell_orders"`
	ConsecutiveLimits int      `json:"consecutive_limits"`
	Themes            []string `json:"themes,omitempty"`
}

// ToMap flattens the item.
func (l LimitItem) ToMap() map[string]any {
	return map[string]any{
		"stock_code":         l.StockCode,
		"stock_name":         l.StockName,
		"current_price":      l.CurrentPrice,
		"limit_price":        l.LimitPrice,
		"previous_close":     l.PreviousClose,
		"limit_type":         l.LimitType,
		"hit_time":           l.HitTime,
		"volume_at_limit":    l.VolumeAtLimit,
		"buy_orders":         l.BuyOrders,
		"sell_orders":        l.SellOrders,
		"consecutive_limits": l.ConsecutiveLimits,
		"themes":             l.Themes,
	}
}

// LimitAnalysis summarizes a limit-up/limit-down scan.
type LimitAnalysis struct {
	UpperCount      int            `json:"upper_count"`
	LowerCount      int            `json:"lower_count"`
	MarketSentiment string         `json:"market_sentiment"`
	TotalVolume     int64          `json:"total_volume"`
	ThemeCounts     map[string]int `json:"theme_concentration"`
}

// AnalyzeLimits builds the scan summary from upper and lower hit lists.
func AnalyzeLimits(upper, lower []LimitItem) LimitAnalysis {
	var total int64
	themes := make(map[string]int)
	for _, s := range append(append([]LimitItem{}, upper...), lower...) {
		total += s.VolumeAtLimit
		for _, theme := range s.Themes {
			themes[theme]++
		}
	}

	return LimitAnalysis{
		UpperCount:      len(upper),
		LowerCount:      len(lower),
		MarketSentiment: marketSentiment(len(upper), len(lower)),
		TotalVolume:     total,
		ThemeCounts:     themes,
	}
}

// marketSentiment bands the upper/lower ratio.
func marketSentiment(upper, lower int) string {
	if upper == 0 && lower == 0 {
		return "NEUTRAL"
	}

	ratio := float64(upper) / float64(upper+lower)
	switch {
	case ratio >= 0.8:
		return "VERY_BULLISH"
	case ratio >= 0.6:
		return "BULLISH"
	case ratio >= 0.4:
		return "NEUTRAL"
	case ratio >= 0.2:
		return "BEARISH"
	default:
		return "VERY_BEARISH"
	}
}

// MarketSummary aggregates the whole market's breadth.
type MarketSummary struct {
	TotalStocks       int       `json:"total_stocks"`
	Advancing         int       `json:"advancing"`
	Declining         int       `json:"declining"`
	Unchanged         int       `json:"unchanged"`
	AverageChangeRate float64   `json:"average_change_rate"`
	Timestamp         time.Time `json:"timestamp"`
}

// AdvanceDeclineRatio derives the breadth ratio. When nothing declined the
// advancing count itself is returned, keeping the value finite.
func (m MarketSummary) AdvanceDeclineRatio() float64 {
	if m.Declining == 0 {
		return float64(m.Advancing)
	}
	return float64(m.Advancing) / float64(m.Declining)
}

// MarketBreadth bands the advance/decline ratio.
func (m MarketSummary) MarketBreadth() string {
	r := m.AdvanceDeclineRatio()
	switch {
	case r > 2.0:
		return "VERY_POSITIVE"
	case r > 1.5:
		return "POSITIVE"
	case r > 1.0:
		return "SLIGHTLY_POSITIVE"
	case r > 0.5:
		return "SLIGHTLY_NEGATIVE"
	default:
		return "NEGATIVE"
	}
}

// ToMap flattens the summary with its derived fields.
func (m MarketSummary) ToMap() map[string]any {
	return map[string]any{
		"total_stocks":          m.TotalStocks,
		"advancing":             m.Advancing,
		"declining":             m.Declining,
		"unchanged":             m.Unchanged,
		"average_change_rate":   m.AverageChangeRate,
		"advance_decline_ratio": m.AdvanceDeclineRatio(),
		"market_breadth":        m.MarketBreadth(),
		"timestamp":             m.Timestamp.Format(time.RFC3339),
	}
}

// KIS returns numeric fields as strings. The helpers below parse the
// common shapes, tolerating missing fields and plain JSON numbers.

func fieldString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func fieldInt(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func fieldFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
