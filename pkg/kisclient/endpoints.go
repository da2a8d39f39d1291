package kisclient

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// stockCodeLen is the fixed length of Korean listed stock codes.
const stockCodeLen = 6

func validStockCode(code string) bool {
	if len(code) != stockCodeLen {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// GetStockPrice fetches the current quotation for a single stock.
func (c *Client) GetStockPrice(ctx context.Context, stockCode string) (*StockPrice, error) {
	if !validStockCode(stockCode) {
		return nil, &ValidationError{Field: "stock_code", Message: "must be 6 digits"}
	}

	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", "J")
	params.Set("fid_input_iscd", stockCode)

	resp, err := c.Get(ctx, EndpointStockPrice, params)
	if err != nil {
		return nil, err
	}

	output, ok := resp["output"].(map[string]any)
	if !ok {
		return nil, &UpstreamError{StatusCode: 200, Body: resp}
	}

	return &StockPrice{
		StockCode:    stockCode,
		StockName:    fieldString(output, "hts_kor_isnm"),
		CurrentPrice: fieldInt(output, "stck_prpr"),
		Change:       fieldInt(output, "prdy_vrss"),
		ChangeRate:   fieldFloat(output, "prdy_ctrt"),
		Volume:       fieldInt(output, "acml_vol"),
		High:         fieldInt(output, "stck_hgpr"),
		Low:          fieldInt(output, "stck_lwpr"),
		Open:         fieldInt(output, "stck_oprc"),
		Timestamp:    time.Now(),
	}, nil
}

// GetRanking fetches a price ranking for the given type and market.
func (c *Client) GetRanking(ctx context.Context, rankingType, market string, count int) ([]RankingItem, error) {
	divCode, ok := RankingTypes[rankingType]
	if !ok {
		return nil, &ValidationError{Field: "ranking_type", Message: "unknown ranking type " + rankingType}
	}
	marketCode, ok := Markets[market]
	if !ok {
		return nil, &ValidationError{Field: "market", Message: "unknown market " + market}
	}

	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", marketCode)
	params.Set("fid_cond_scr_div_code", "20171")
	params.Set("fid_div_cls_code", divCode)
	params.Set("fid_rsfl_rate1", "")
	params.Set("fid_rsfl_rate2", "")
	params.Set("fid_input_cnt_1", strconv.Itoa(count))

	// The volume board is served from its own ranking endpoint.
	endpoint := EndpointStockRanking
	if rankingType == "MOST_ACTIVE" {
		endpoint = EndpointVolumeRanking
	}

	resp, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	rows, err := outputList(resp)
	if err != nil {
		return nil, err
	}

	items := make([]RankingItem, 0, len(rows))
	for i, row := range rows {
		items = append(items, RankingItem{
			Rank:         i + 1,
			StockCode:    fieldString(row, "mksc_shrn_iscd"),
			StockName:    fieldString(row, "hts_kor_isnm"),
			CurrentPrice: fieldInt(row, "stck_prpr"),
			Change:       fieldInt(row, "prdy_vrss"),
			ChangeRate:   fieldFloat(row, "prdy_ctrt"),
			Volume:       fieldInt(row, "acml_vol"),
			High:         fieldInt(row, "stck_hgpr"),
			Low:          fieldInt(row, "stck_lwpr"),
			Open:         fieldInt(row, "stck_oprc"),
			Sector:       fieldString(row, "bstp_kor_isnm"),
		})
	}
	return items, nil
}

// GetHighLow scans for stocks at or beyond their 52-week high/low.
// When breakthroughOnly is set, only stocks that newly crossed the bound
// on the current trading day are returned.
func (c *Client) GetHighLow(ctx context.Context, market string, breakthroughOnly bool) ([]HighLowItem, []HighLowItem, HighLowAnalysis, error) {
	marketCode, ok := Markets[market]
	if !ok {
		return nil, nil, HighLowAnalysis{}, &ValidationError{Field: "market", Message: "unknown market " + market}
	}

	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", marketCode)
	params.Set("fid_period_div_code", "D")

	resp, err := c.Get(ctx, EndpointDailyPrice, params)
	if err != nil {
		return nil, nil, HighLowAnalysis{}, err
	}

	rows, err := outputList(resp)
	if err != nil {
		return nil, nil, HighLowAnalysis{}, err
	}

	var highs, lows []HighLowItem
	for _, row := range rows {
		item := HighLowItem{
			StockCode:    fieldString(row, "mksc_shrn_iscd"),
			StockName:    fieldString(row, "hts_kor_isnm"),
			CurrentPrice: fieldInt(row, "stck_prpr"),
			Week52High:   fieldInt(row, "w52_hgpr"),
			Week52Low:    fieldInt(row, "w52_lwpr"),
			Volume:       fieldInt(row, "acml_vol"),
			VolumeRatio:  fieldFloat(row, "vol_tnrt"),
			Sector:       fieldString(row, "bstp_kor_isnm"),
		}
		item.IsNewHigh = item.Week52High > 0 && item.CurrentPrice >= item.Week52High
		item.IsNewLow = item.Week52Low > 0 && item.CurrentPrice <= item.Week52Low

		switch {
		case item.IsNewHigh:
			highs = append(highs, item)
		case item.IsNewLow:
			lows = append(lows, item)
		case !breakthroughOnly && item.PositionInRange() >= 95:
			highs = append(highs, item)
		case !breakthroughOnly && item.PositionInRange() <= 5:
			lows = append(lows, item)
		}
	}

	return highs, lows, AnalyzeHighLow(highs, lows), nil
}

// GetLimitStocks scans for stocks pinned at the exchange's daily price
// limit. A stock is limit-up when its price equals the session's maximum
// allowed price (stck_mxpr), limit-down at the minimum (stck_llam).
func (c *Client) GetLimitStocks(ctx context.Context, market string, includeHistory bool) ([]LimitItem, []LimitItem, LimitAnalysis, error) {
	marketCode, ok := Markets[market]
	if !ok {
		return nil, nil, LimitAnalysis{}, &ValidationError{Field: "market", Message: "unknown market " + market}
	}

	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", marketCode)
	params.Set("fid_cond_scr_div_code", "20171")

	resp, err := c.Get(ctx, EndpointStockRanking, params)
	if err != nil {
		return nil, nil, LimitAnalysis{}, err
	}

	rows, err := outputList(resp)
	if err != nil {
		return nil, nil, LimitAnalysis{}, err
	}

	var upper, lower []LimitItem
	for _, row := range rows {
		price := fieldInt(row, "stck_prpr")
		maxPrice := fieldInt(row, "stck_mxpr")
		minPrice := fieldInt(row, "stck_llam")

		var limitType string
		var limitPrice int64
		switch {
		case maxPrice > 0 && price >= maxPrice:
			limitType, limitPrice = "UPPER", maxPrice
		case minPrice > 0 && price <= minPrice:
			limitType, limitPrice = "LOWER", minPrice
		default:
			continue
		}

		item := LimitItem{
			StockCode:     fieldString(row, "mksc_shrn_iscd"),
			StockName:     fieldString(row, "hts_kor_isnm"),
			CurrentPrice:  price,
			LimitPrice:    limitPrice,
			PreviousClose: price - fieldInt(row, "prdy_vrss"),
			LimitType:     limitType,
			HitTime:       fieldString(row, "stck_cntg_hour"),
			VolumeAtLimit: fieldInt(row, "acml_vol"),
			BuyOrders:     fieldInt(row, "total_bidp_rsqn"),
			SellOrders:    fieldInt(row, "total_askp_rsqn"),
		}
		if includeHistory {
			item.ConsecutiveLimits = int(fieldInt(row, "cont_updn_days"))
		}

		if limitType == "UPPER" {
			upper = append(upper, item)
		} else {
			lower = append(lower, item)
		}
	}

	return upper, lower, AnalyzeLimits(upper, lower), nil
}

// GetMarketSummary fetches the market-wide advance/decline summary.
func (c *Client) GetMarketSummary(ctx context.Context) (*MarketSummary, error) {
	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", "U")
	params.Set("fid_input_iscd", "0001")

	resp, err := c.Get(ctx, EndpointMarketIndex, params)
	if err != nil {
		return nil, err
	}

	output, ok := resp["output"].(map[string]any)
	if !ok {
		return nil, &UpstreamError{StatusCode: 200, Body: resp}
	}

	advancing := int(fieldInt(output, "ascn_issu_cnt"))
	declining := int(fieldInt(output, "down_issu_cnt"))
	unchanged := int(fieldInt(output, "stnr_issu_cnt"))

	return &MarketSummary{
		TotalStocks:       advancing + declining + unchanged,
		Advancing:         advancing,
		Declining:         declining,
		Unchanged:         unchanged,
		AverageChangeRate: fieldFloat(output, "bstp_nmix_prdy_ctrt"),
		Timestamp:         time.Now(),
	}, nil
}

// HealthCheck verifies upstream reachability with a lightweight quote
// request.
func (c *Client) HealthCheck(ctx context.Context) map[string]any {
	_, err := c.GetStockPrice(ctx, "005930")
	if err != nil {
		return map[string]any{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": time.Now().Format(time.RFC3339),
		}
	}
	return map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

// outputList extracts the "output" array common to KIS list responses.
func outputList(resp map[string]any) ([]map[string]any, error) {
	raw, ok := resp["output"].([]any)
	if !ok {
		return nil, &UpstreamError{StatusCode: 200, Body: resp}
	}

	rows := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows, nil
}
