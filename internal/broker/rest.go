// Package broker talks to the upstream market-data broker over both REST
// (polling the configured universe) and a persistent WebSocket stream
// (top-K subscriptions). Both transports are wrapped in a circuit breaker
// and retried with jittered exponential backoff.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/surveillance/presurge/internal/broker/wire"
	"github.com/surveillance/presurge/internal/resilience"
)

// quoteBatchMax is the broker's documented ceiling on symbols per
// quote_batch request.
const quoteBatchMax = 30

// Quote is one REST poll result for a single ticker. PrevClose and
// AvgVolume carry the prior-session stats the broker bundles into the same
// snapshot payload; both PollQuote and QuoteBatch decode them, and callers
// that only need the live tick can ignore them.
type Quote struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	BidPrice  float64
	BidSize   int64
	AskPrice  float64
	AskSize   int64
	Volume    int64
	PrevClose float64
	AvgVolume int64
}

type quoteResponse struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"t"`
	Price     float64 `json:"price"`
	BidPrice  float64 `json:"bidPrice"`
	BidSize   int64   `json:"bidSize"`
	AskPrice  float64 `json:"askPrice"`
	AskSize   int64   `json:"askSize"`
	Volume    int64   `json:"volume"`
	PrevClose float64 `json:"prevClose"`
	AvgVolume int64   `json:"avgVolume"`
}

// Depth is an order_book result: the full quoted depth for one symbol,
// called sparingly relative to quote_batch since it carries the full
// per-level size vectors rather than a top-of-book scalar pair.
type Depth struct {
	Symbol    string
	Timestamp time.Time
	BidPrice  float64
	AskPrice  float64
	BidSizes  [wire.DepthLevels]int64
	AskSizes  [wire.DepthLevels]int64
}

type depthResponse struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"t"`
	BidPrice  float64 `json:"bidPrice"`
	AskPrice  float64 `json:"askPrice"`
	BidSizes  []int64 `json:"bidSizes"`
	AskSizes  []int64 `json:"askSizes"`
}

// RESTClient polls the broker's quote endpoint under a token-bucket quota,
// a circuit breaker, and bounded retries with jittered backoff.
type RESTClient struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *resilience.Breaker
	retryBudget int
	backoffBase time.Duration
	backoffCap  time.Duration
	jitter      float64
	log         zerolog.Logger

	tokenSource TokenSource
}

// TokenSource supplies a bearer token for authenticated REST calls,
// refreshing it when expired.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// RESTConfig configures a RESTClient.
type RESTConfig struct {
	BaseURL     string
	QPS         float64
	Burst       int
	Timeout     time.Duration
	RetryBudget int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Jitter      float64
	Breaker     *resilience.Breaker
	TokenSource TokenSource
}

// NewRESTClient builds a REST client against cfg.
func NewRESTClient(cfg RESTConfig, log zerolog.Logger) *RESTClient {
	return &RESTClient{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
		breaker:     cfg.Breaker,
		retryBudget: cfg.RetryBudget,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		jitter:      cfg.Jitter,
		tokenSource: cfg.TokenSource,
		log:         log.With().Str("component", "broker.rest").Logger(),
	}
}

// PollQuote fetches the latest quote for a single symbol, retrying
// transient failures under the configured backoff policy and short
// circuiting through the breaker when the upstream is unhealthy.
func (c *RESTClient) PollQuote(ctx context.Context, symbol string) (*Quote, error) {
	var lastErr error
	backoffDelay := c.backoffBase

	for attempt := 0; attempt <= c.retryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(resilience.Jitter(backoffDelay, c.jitter)):
			}
			backoffDelay *= 2
			if backoffDelay > c.backoffCap {
				backoffDelay = c.backoffCap
			}
		}

		v, err := c.breaker.Execute(func() (any, error) {
			return c.pollOnce(ctx, symbol)
		})
		if err == nil {
			return v.(*Quote), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Debug().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("quote poll failed, retrying")
	}

	return nil, fmt.Errorf("broker: poll %s exhausted retry budget: %w", symbol, lastErr)
}

func (c *RESTClient) pollOnce(ctx context.Context, symbol string) (*Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker: rate limiter wait: %w", err)
	}

	url := fmt.Sprintf("%s/v1/quote?symbol=%s", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: build request: %w", err)
	}

	if c.tokenSource != nil {
		token, err := c.tokenSource.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("broker: token refresh: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: request %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("broker: rate limited by upstream (%s)", symbol)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("broker: unexpected status %d for %s", resp.StatusCode, symbol)
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("broker: decode quote for %s: %w", symbol, err)
	}

	return &Quote{
		Symbol:    qr.Symbol,
		Timestamp: time.Unix(0, qr.Timestamp),
		Price:     qr.Price,
		BidPrice:  qr.BidPrice,
		BidSize:   qr.BidSize,
		AskPrice:  qr.AskPrice,
		AskSize:   qr.AskSize,
		Volume:    qr.Volume,
		PrevClose: qr.PrevClose,
		AvgVolume: qr.AvgVolume,
	}, nil
}

// QuoteBatch fetches snapshots for symbols via the broker's batched
// quote_batch endpoint, chunking into requests of at most 30 symbols (the
// broker's documented ceiling) and retrying each chunk under the same
// backoff/breaker policy as PollQuote. Partial chunk failures do not abort
// the whole call: a failed chunk's symbols are reported via the returned
// error slice while the rest of the batch still completes.
func (c *RESTClient) QuoteBatch(ctx context.Context, symbols []string) ([]*Quote, []error) {
	quotes := make([]*Quote, 0, len(symbols))
	var errs []error

	for start := 0; start < len(symbols); start += quoteBatchMax {
		end := start + quoteBatchMax
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]

		var lastErr error
		backoffDelay := c.backoffBase
		ok := false
		for attempt := 0; attempt <= c.retryBudget; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return quotes, append(errs, ctx.Err())
				case <-time.After(resilience.Jitter(backoffDelay, c.jitter)):
				}
				backoffDelay *= 2
				if backoffDelay > c.backoffCap {
					backoffDelay = c.backoffCap
				}
			}

			v, err := c.breaker.Execute(func() (any, error) {
				return c.pollBatchOnce(ctx, chunk)
			})
			if err == nil {
				quotes = append(quotes, v.([]*Quote)...)
				ok = true
				break
			}
			lastErr = err
			if ctx.Err() != nil {
				return quotes, append(errs, ctx.Err())
			}
			c.log.Debug().Err(err).Strs("symbols", chunk).Int("attempt", attempt).Msg("quote batch poll failed, retrying")
		}
		if !ok {
			errs = append(errs, fmt.Errorf("broker: batch %v exhausted retry budget: %w", chunk, lastErr))
		}
	}

	return quotes, errs
}

func (c *RESTClient) pollBatchOnce(ctx context.Context, symbols []string) ([]*Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker: rate limiter wait: %w", err)
	}

	url := fmt.Sprintf("%s/v1/quotes?symbols=%s", c.baseURL, strings.Join(symbols, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: build batch request: %w", err)
	}

	if c.tokenSource != nil {
		token, err := c.tokenSource.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("broker: token refresh: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: batch request %v: %w", symbols, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("broker: rate limited by upstream (batch %v)", symbols)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("broker: unexpected status %d for batch %v", resp.StatusCode, symbols)
	}

	var qrs []quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qrs); err != nil {
		return nil, fmt.Errorf("broker: decode quote batch: %w", err)
	}

	quotes := make([]*Quote, 0, len(qrs))
	for _, qr := range qrs {
		quotes = append(quotes, &Quote{
			Symbol:    qr.Symbol,
			Timestamp: time.Unix(0, qr.Timestamp),
			Price:     qr.Price,
			BidPrice:  qr.BidPrice,
			BidSize:   qr.BidSize,
			AskPrice:  qr.AskPrice,
			AskSize:   qr.AskSize,
			Volume:    qr.Volume,
			PrevClose: qr.PrevClose,
			AvgVolume: qr.AvgVolume,
		})
	}
	return quotes, nil
}

// OrderBook fetches full quoted depth for a single symbol. Per broker
// guidance this call is used sparingly (it carries DepthLevels worth of
// size vectors per side) compared to the lightweight quote_batch snapshot.
func (c *RESTClient) OrderBook(ctx context.Context, symbol string) (*Depth, error) {
	v, err := c.breaker.Execute(func() (any, error) {
		return c.pollDepthOnce(ctx, symbol)
	})
	if err != nil {
		return nil, fmt.Errorf("broker: order book %s: %w", symbol, err)
	}
	return v.(*Depth), nil
}

func (c *RESTClient) pollDepthOnce(ctx context.Context, symbol string) (*Depth, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker: rate limiter wait: %w", err)
	}

	url := fmt.Sprintf("%s/v1/depth?symbol=%s", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: build depth request: %w", err)
	}

	if c.tokenSource != nil {
		token, err := c.tokenSource.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("broker: token refresh: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: request depth %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("broker: rate limited by upstream (depth %s)", symbol)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("broker: unexpected status %d for depth %s", resp.StatusCode, symbol)
	}

	var dr depthResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("broker: decode depth for %s: %w", symbol, err)
	}

	depth := &Depth{
		Symbol:    dr.Symbol,
		Timestamp: time.Unix(0, dr.Timestamp),
		BidPrice:  dr.BidPrice,
		AskPrice:  dr.AskPrice,
	}
	for i := 0; i < wire.DepthLevels && i < len(dr.BidSizes); i++ {
		depth.BidSizes[i] = dr.BidSizes[i]
	}
	for i := 0; i < wire.DepthLevels && i < len(dr.AskSizes); i++ {
		depth.AskSizes[i] = dr.AskSizes[i]
	}
	return depth, nil
}

// PollUniverse fetches the full universe via QuoteBatch, chunking into
// broker-sized requests instead of one round trip per symbol.
func (c *RESTClient) PollUniverse(ctx context.Context, symbols []string) ([]*Quote, []error) {
	return c.QuoteBatch(ctx, symbols)
}
