// Package batch provides parallel multi-stock quote fetching over the KIS
// client using a bounded worker pool.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel quote requests.
	// The rate limit gate still paces actual wire traffic; concurrency
	// above the per-second budget only queues at the gate.
	MaxConcurrency int
	// Timeout per quote fetch.
	Timeout time.Duration
}

// DefaultConfig returns safe defaults for the KIS budget (3 req/s).
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 3,
		Timeout:        10 * time.Second,
	}
}

// QuoteFetcher is the single-quote interface the KIS client implements.
type QuoteFetcher interface {
	GetStockPrice(ctx context.Context, stockCode string) (*kisclient.StockPrice, error)
}

// Result is the outcome of fetching one stock's quote.
type Result struct {
	StockCode string
	Price     *kisclient.StockPrice
	Err       error
}

// Fetcher fans a list of stock codes out over a worker pool.
type Fetcher struct {
	client QuoteFetcher
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a batch fetcher.
func NewFetcher(client QuoteFetcher, config Config, logger zerolog.Logger) *Fetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Fetcher{
		client: client,
		config: config,
		logger: logger,
	}
}

// FetchQuotes fetches quotes for all codes in parallel. Per-code failures
// are reported in the result slice, never aborting the batch; results come
// back in the input order.
func (f *Fetcher) FetchQuotes(ctx context.Context, stockCodes []string) []Result {
	start := time.Now()

	results := make([]Result, len(stockCodes))
	queue := make(chan int, len(stockCodes))
	for i := range stockCodes {
		queue <- i
	}
	close(queue)

	workers := f.config.MaxConcurrency
	if workers > len(stockCodes) {
		workers = len(stockCodes)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go f.worker(ctx, stockCodes, queue, results, &wg)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	f.logger.Info().
		Int("requested", len(stockCodes)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch quote fetch complete")

	return results
}

// worker pulls indices off the queue and fetches each quote with its own
// timeout.
func (f *Fetcher) worker(ctx context.Context, codes []string, queue <-chan int, results []Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for i := range queue {
		code := codes[i]

		select {
		case <-ctx.Done():
			results[i] = Result{StockCode: code, Err: ctx.Err()}
			continue
		default:
		}

		quoteCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		price, err := f.client.GetStockPrice(quoteCtx, code)
		cancel()

		if err != nil {
			f.logger.Warn().
				Err(err).
				Str("stock_code", code).
				Msg("Quote fetch failed")
		}
		results[i] = Result{StockCode: code, Price: price, Err: err}
	}
}
