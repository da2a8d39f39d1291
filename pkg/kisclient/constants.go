package kisclient

// KIS OpenAPI endpoints.
const (
	EndpointToken         = "/oauth2/tokenP"
	EndpointRevoke        = "/oauth2/revokeP"
	EndpointStockPrice    = "/uapi/domestic-stock/v1/quotations/inquire-price"
	EndpointDailyPrice    = "/uapi/domestic-stock/v1/quotations/inquire-daily-price"
	EndpointStockRanking  = "/uapi/domestic-stock/v1/ranking/fluctuation"
	EndpointVolumeRanking = "/uapi/domestic-stock/v1/ranking/volume"
	EndpointMarketIndex   = "/uapi/domestic-stock/v1/quotations/inquire-index-price"
)

// DefaultBaseURL is the production KIS OpenAPI host.
const DefaultBaseURL = "https://openapi.koreainvestment.com:9443"

// Markets maps market names to KIS venue division codes.
// An empty code queries all venues.
var Markets = map[string]string{
	"ALL":    "",
	"KOSPI":  "J",
	"KOSDAQ": "Q",
	"KONEX":  "K",
}

// RankingTypes maps ranking names to KIS classification codes.
var RankingTypes = map[string]string{
	"TOP_GAINERS":   "1",
	"TOP_LOSERS":    "2",
	"MOST_ACTIVE":   "3",
	"MOST_VALUABLE": "4",
	"MOST_VOLATILE": "5",
	"HIGH_PRICE":    "6",
	"LOW_PRICE":     "7",
	"MARKET_CAP":    "8",
}
