package coingecko

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"shadow_exchange/internal/domain"
)

// MarketFetcher is the subset of Client the poller needs.
type MarketFetcher interface {
	FetchMarkets(ctx context.Context, perPage int) ([]domain.Coin, error)
	FetchGlobal(ctx context.Context) (domain.GlobalStats, error)
	FetchTrending(ctx context.Context) ([]domain.TrendingCoin, error)
}

// PollerConfig sets the refresh cadence.
type PollerConfig struct {
	CoinsInterval    time.Duration
	GlobalInterval   time.Duration
	TrendingInterval time.Duration
	PerPage          int
}

// DefaultPollerConfig refreshes coins every 30s, global stats every 60s and
// trending every 120s.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		CoinsInterval:    30 * time.Second,
		GlobalInterval:   60 * time.Second,
		TrendingInterval: 120 * time.Second,
		PerPage:          100,
	}
}

// Poller keeps the latest REST snapshot of the market.
type Poller struct {
	fetcher MarketFetcher
	cfg     PollerConfig
	onCoins func([]domain.Coin)

	mu             sync.RWMutex
	coins          []domain.Coin
	coinsUpdatedAt time.Time
	global         domain.GlobalStats
	hasGlobal      bool
	trending       []domain.TrendingCoin
	lastCoinsErr   error
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewPoller creates a poller. onCoins runs after every successful coin
// refresh and may be nil.
func NewPoller(fetcher MarketFetcher, cfg PollerConfig, onCoins func([]domain.Coin)) *Poller {
	def := DefaultPollerConfig()
	if cfg.CoinsInterval <= 0 {
		cfg.CoinsInterval = def.CoinsInterval
	}
	if cfg.GlobalInterval <= 0 {
		cfg.GlobalInterval = def.GlobalInterval
	}
	if cfg.TrendingInterval <= 0 {
		cfg.TrendingInterval = def.TrendingInterval
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = def.PerPage
	}
	return &Poller{fetcher: fetcher, cfg: cfg, onCoins: onCoins}
}

// Seed installs a previously saved coin list so lookups work before the
// first fetch completes. It is ignored once a live list has been loaded.
func (p *Poller) Seed(coins []domain.Coin, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.coinsUpdatedAt.IsZero() && p.coinsUpdatedAt.After(at) {
		return
	}
	p.coins = cloneCoins(coins)
	p.coinsUpdatedAt = at
}

// Start fetches everything once, then refreshes on each interval.
func (p *Poller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	// Fetch immediately on start; failures retry on the next tick.
	p.refreshCoins(ctx)
	p.refreshGlobal(ctx)
	p.refreshTrending(ctx)

	p.loop(ctx, "coins", p.cfg.CoinsInterval, p.refreshCoins)
	p.loop(ctx, "global", p.cfg.GlobalInterval, p.refreshGlobal)
	p.loop(ctx, "trending", p.cfg.TrendingInterval, p.refreshTrending)
	return nil
}

// Stop stops the polling
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

func (p *Poller) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Market polling panic recovered", slog.String("feed", name), slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Market polling stopped", slog.String("feed", name))
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (p *Poller) refreshCoins(ctx context.Context) {
	coins, err := p.fetcher.FetchMarkets(ctx, p.cfg.PerPage)

	p.mu.Lock()
	p.lastCoinsErr = err
	if err == nil {
		p.coins = coins
		p.coinsUpdatedAt = time.Now()
	}
	p.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Coin list fetch failed", slog.Any("error", err))
		}
		return
	}
	slog.Debug("Coin list refreshed", slog.Int("coins", len(coins)))
	if p.onCoins != nil {
		p.onCoins(cloneCoins(coins))
	}
}

func (p *Poller) refreshGlobal(ctx context.Context) {
	g, err := p.fetcher.FetchGlobal(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Global stats fetch failed", slog.Any("error", err))
		}
		return
	}
	p.mu.Lock()
	p.global = g
	p.hasGlobal = true
	p.mu.Unlock()
}

func (p *Poller) refreshTrending(ctx context.Context) {
	t, err := p.fetcher.FetchTrending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Trending fetch failed", slog.Any("error", err))
		}
		return
	}
	p.mu.Lock()
	p.trending = t
	p.mu.Unlock()
}

// Coins returns the latest coin list.
func (p *Poller) Coins() []domain.Coin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneCoins(p.coins)
}

// CoinsUpdatedAt is the time of the last successful coin refresh.
func (p *Poller) CoinsUpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.coinsUpdatedAt
}

// LastError returns the error of the most recent coin refresh, if any.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCoinsErr
}

// Global returns the latest aggregate stats.
func (p *Poller) Global() (domain.GlobalStats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.global, p.hasGlobal
}

// Trending returns the latest trending list.
func (p *Poller) Trending() []domain.TrendingCoin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.TrendingCoin(nil), p.trending...)
}

// CoinBySymbol finds a coin by ticker, case-insensitively.
func (p *Poller) CoinBySymbol(symbol string) (domain.Coin, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.coins {
		if strings.EqualFold(c.Symbol, symbol) {
			return c, true
		}
	}
	return domain.Coin{}, false
}

// CoinByID finds a coin by its API id.
func (p *Poller) CoinByID(id string) (domain.Coin, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.coins {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Coin{}, false
}

// Symbols returns the upper-case tickers of the current coin list in rank order.
func Symbols(coins []domain.Coin) []string {
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		out = append(out, strings.ToUpper(c.Symbol))
	}
	return out
}

func cloneCoins(in []domain.Coin) []domain.Coin {
	if in == nil {
		return nil
	}
	return append([]domain.Coin(nil), in...)
}
