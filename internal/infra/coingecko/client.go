package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shadow_exchange/internal/domain"
	"shadow_exchange/internal/infra"
)

// DefaultBaseURL is the public v3 API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// StatusError is a non-200 upstream response.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.Code, e.Path)
}

// retryable reports whether another attempt could succeed.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client talks to the market-data REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *infra.RateLimiter
	breaker    *infra.CircuitBreaker

	attempts  int
	retryBase time.Duration
}

// NewClient creates a client. A nil limiter disables rate limiting.
func NewClient(baseURL, apiKey string, limiter *infra.RateLimiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:   limiter,
		breaker:   infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("coingecko")),
		attempts:  3,
		retryBase: time.Second,
	}
}

// BreakerStats reports whether the API is currently being short-circuited.
func (c *Client) BreakerStats() infra.BreakerStats {
	return c.breaker.Stats()
}

// FetchMarkets returns the top coins by market cap with 7d sparklines.
func (c *Client) FetchMarkets(ctx context.Context, perPage int) ([]domain.Coin, error) {
	if perPage <= 0 {
		perPage = 100
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", "1")
	q.Set("sparkline", "true")
	q.Set("price_change_percentage", "7d")

	var coins []domain.Coin
	if err := c.getJSON(ctx, "/coins/markets", q, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

type globalResponse struct {
	Data struct {
		ActiveCryptocurrencies          int                `json:"active_cryptocurrencies"`
		TotalMarketCap                  map[string]float64 `json:"total_market_cap"`
		TotalVolume                     map[string]float64 `json:"total_volume"`
		MarketCapChangePercentage24hUSD float64            `json:"market_cap_change_percentage_24h_usd"`
		UpdatedAt                       int64              `json:"updated_at"`
	} `json:"data"`
}

// FetchGlobal returns aggregate market stats in USD.
func (c *Client) FetchGlobal(ctx context.Context) (domain.GlobalStats, error) {
	var resp globalResponse
	if err := c.getJSON(ctx, "/global", nil, &resp); err != nil {
		return domain.GlobalStats{}, err
	}
	d := resp.Data
	return domain.GlobalStats{
		TotalMarketCap:               d.TotalMarketCap["usd"],
		TotalVolume:                  d.TotalVolume["usd"],
		MarketCapChangePercentage24h: d.MarketCapChangePercentage24hUSD,
		ActiveCryptocurrencies:       d.ActiveCryptocurrencies,
		UpdatedAtUnixM:               d.UpdatedAt * 1_000_000,
	}, nil
}

type trendingResponse struct {
	Coins []struct {
		Item domain.TrendingCoin `json:"item"`
	} `json:"coins"`
}

// FetchTrending returns the trending search list.
func (c *Client) FetchTrending(ctx context.Context) ([]domain.TrendingCoin, error) {
	var resp trendingResponse
	if err := c.getJSON(ctx, "/search/trending", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.TrendingCoin, 0, len(resp.Coins))
	for _, c := range resp.Coins {
		out = append(out, c.Item)
	}
	return out, nil
}

// FetchChart returns the USD price history of a coin over days.
func (c *Client) FetchChart(ctx context.Context, id string, days int) (domain.ChartData, error) {
	if days <= 0 {
		days = 7
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", strconv.Itoa(days))

	var chart domain.ChartData
	err := c.getJSON(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", q, &chart)
	return chart, err
}

type coinResponse struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	MarketCapRank int    `json:"market_cap_rank"`
	Description   struct {
		En string `json:"en"`
	} `json:"description"`
	Links struct {
		Homepage []string `json:"homepage"`
	} `json:"links"`
}

// FetchCoin returns descriptive data for one coin.
func (c *Client) FetchCoin(ctx context.Context, id string) (domain.CoinDetail, error) {
	q := url.Values{}
	for _, k := range []string{"localization", "tickers", "market_data", "community_data", "developer_data"} {
		q.Set(k, "false")
	}

	var resp coinResponse
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(id), q, &resp); err != nil {
		return domain.CoinDetail{}, err
	}
	d := domain.CoinDetail{
		ID:            resp.ID,
		Symbol:        resp.Symbol,
		Name:          resp.Name,
		Description:   resp.Description.En,
		MarketCapRank: resp.MarketCapRank,
	}
	for _, h := range resp.Links.Homepage {
		if h != "" {
			d.Homepage = h
			break
		}
	}
	return d, nil
}

// getJSON fetches path with retry and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s
			delay := c.retryBase * time.Duration(1<<uint(i-1))
			slog.Info("Retrying market fetch", slog.String("path", path), slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		// Client errors such as an unknown coin id do not count against the breaker.
		var callErr error
		err := c.breaker.Do(func() error {
			callErr = c.doGet(ctx, path, q, out)
			var se *StatusError
			if errors.As(callErr, &se) && !se.retryable() {
				return nil
			}
			return callErr
		})
		if err == nil {
			err = callErr
		}
		if err == nil {
			return nil
		}
		lastErr = err

		var se *StatusError
		if errors.Is(err, infra.ErrCircuitOpen) || ctx.Err() != nil ||
			(errors.As(err, &se) && !se.retryable()) {
			break
		}
		slog.Warn("Market fetch attempt failed", slog.String("path", path), slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

func (c *Client) doGet(ctx context.Context, path string, q url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.WaitContext(ctx); err != nil {
			return err
		}
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", infra.GetUserAgent())
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{Code: resp.StatusCode, Path: path}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
