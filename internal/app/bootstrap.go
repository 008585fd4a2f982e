package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"shadow_exchange/internal/alerting"
	"shadow_exchange/internal/api"
	"shadow_exchange/internal/domain"
	"shadow_exchange/internal/engine"
	"shadow_exchange/internal/execution"
	"shadow_exchange/internal/infra"
	"shadow_exchange/internal/infra/binance"
	"shadow_exchange/internal/infra/coingecko"
	"shadow_exchange/internal/infra/pricebus"
	"shadow_exchange/internal/portfolio"
	"shadow_exchange/internal/storage"
)

// keepSnapshots is how many market snapshots stay on disk.
const keepSnapshots = 3

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	WorkDir string // empty resolves to the OS workspace

	Store     *storage.Store
	Snapshots *storage.SnapshotManager
	Cache     *engine.PriceCache
	Pricer    *engine.MarketPricer
	Stream    *binance.StreamManager
	Market    *coingecko.Client
	Poller    *coingecko.Poller
	Mirror    *pricebus.RedisMirror // nil unless redis.addr is set
	Alerts    *alerting.Monitor
	Executor  *execution.TradeExecutor
	Server    *api.Server

	unlock  func()
	snapSeq atomic.Uint64
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config and builds every component. Nothing touches
// the network until Start.
func (b *Bootstrap) Initialize() (err error) {
	slog.Info("🚀 Bootstrapping Shadow Exchange...")

	// 1. Load Config (Dynamic Path Resolution)
	if b.Config == nil {
		cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
		if err != nil {
			return err
		}
		b.Config = cfg
	}
	cfg := b.Config

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	if cfg.App.UserAgent != "" {
		infra.SetUserAgent(cfg.App.UserAgent)
	}

	// 3. Workspace and instance lock
	mode := strings.ToLower(cfg.App.Mode)
	if b.WorkDir == "" {
		b.WorkDir = infra.GetWorkspaceDir()
	}
	if err := infra.EnsureDir(b.WorkDir); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	unlock, err := infra.CreateLockFile(b.WorkDir)
	if err != nil {
		return err
	}
	b.unlock = unlock
	defer func() {
		if err != nil {
			b.Shutdown()
		}
	}()

	dataDir, err := infra.DataDir(b.WorkDir, mode)
	if err != nil {
		return err
	}

	// 4. Storage (data isolated per mode)
	dsn := cfg.Database.DSN
	if cfg.Database.Driver == storage.DriverSQLite && dsn == "" {
		dsn = filepath.Join(dataDir, "shadow.db")
	}
	b.Store, err = storage.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return err
	}
	b.Snapshots = storage.NewSnapshotManager(filepath.Join(dataDir, "snapshots"))
	slog.Info("✅ Store initialized", "driver", cfg.Database.Driver, "mode", mode)

	// 5. Price engine and live stream
	cache, writer := engine.NewPriceCache()
	b.Cache = cache
	b.Stream = binance.NewStreamManager(writer, streamOptions(cfg))

	// 6. Market data
	b.Market = coingecko.NewClient(cfg.Market.BaseURL, cfg.Market.APIKey,
		infra.NewMarketDataLimiter(cfg.Market.RequestsPerSecond))
	b.Poller = coingecko.NewPoller(b.Market, coingecko.PollerConfig{
		CoinsInterval:    time.Duration(cfg.Market.CoinsIntervalSec) * time.Second,
		GlobalInterval:   time.Duration(cfg.Market.GlobalIntervalSec) * time.Second,
		TrendingInterval: time.Duration(cfg.Market.TrendingIntervalSec) * time.Second,
		PerPage:          cfg.Market.PerPage,
	}, b.onCoins)
	b.Pricer = engine.NewMarketPricer(cache, b.Poller)

	// 7. Accounts
	b.Executor, err = execution.NewExecutorForMode(mode, b.Store, b.Pricer, cfg.Wallet.StartingUSDT)
	if err != nil {
		return err
	}
	b.Alerts = alerting.NewMonitor(b.Store, cache, nil)

	b.Server = api.NewServer(api.Deps{
		Cache:    cache,
		Pricer:   b.Pricer,
		Market:   b.Poller,
		Coins:    b.Market,
		Stream:   b.Stream,
		Store:    b.Store,
		Executor: b.Executor,
		Valuer:   portfolio.NewValuer(b.Store, b.Pricer),
		Alerts:   b.Alerts,
		Health:   b.Market,
	})
	return nil
}

// Start connects the stream, starts polling and the background workers.
func (b *Bootstrap) Start(ctx context.Context) error {
	cfg := b.Config

	b.Stream.OnStateChange(func(s infra.ConnState) {
		slog.Info("Stream state changed", slog.String("state", s.String()))
	})
	b.Stream.Start(ctx)

	// Subscribe from config or the last snapshot until live data arrives.
	symbols := cfg.Stream.Symbols
	if warm := b.warmStart(); len(symbols) == 0 {
		symbols = warm
	}
	if err := b.Stream.Subscribe(symbols); err != nil {
		return fmt.Errorf("failed to subscribe stream: %w", err)
	}

	if cfg.Redis.Addr != "" {
		mirror, err := pricebus.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second)
		if err != nil {
			// The mirror is optional; the exchange runs without it.
			slog.Warn("⚠️ Price mirror disabled", slog.Any("error", err))
		} else {
			b.Mirror = mirror
			b.Mirror.Start(ctx, b.Cache)
			slog.Info("✅ Price mirror started", slog.String("addr", cfg.Redis.Addr))
		}
	}

	if err := b.Alerts.Start(ctx); err != nil {
		return fmt.Errorf("failed to start alert monitor: %w", err)
	}
	slog.Info("✅ Alert monitor started", slog.Int("active", b.Alerts.ActiveCount()))

	if err := b.Poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start market poller: %w", err)
	}
	slog.Info("✅ Market poller started")
	return nil
}

// warmStart seeds the poller from the latest saved snapshot and returns
// its symbols.
func (b *Bootstrap) warmStart() []string {
	snap, err := b.Snapshots.LoadLatest()
	if err != nil {
		slog.Warn("Market snapshot unreadable", slog.Any("error", err))
		return nil
	}
	if snap == nil {
		return nil
	}
	b.snapSeq.Store(snap.Seq)
	b.Poller.Seed(snap.Coins, time.Unix(snap.TsUnix, 0))
	slog.Info("🔥 Warm start from snapshot",
		slog.Int("coins", len(snap.Coins)),
		slog.Duration("age", snap.Age(time.Now()).Round(time.Second)))
	return coingecko.Symbols(snap.Coins)
}

// onCoins follows every fresh coin list: the stream tracks its symbols and
// the list is saved for the next warm start.
func (b *Bootstrap) onCoins(coins []domain.Coin) {
	if err := b.Stream.Subscribe(coingecko.Symbols(coins)); err != nil && !errors.Is(err, binance.ErrClosed) {
		slog.Warn("Stream resubscribe failed", slog.Any("error", err))
	}

	snap := storage.NewMarketSnapshot(b.snapSeq.Add(1), coins)
	if err := b.Snapshots.Save(snap); err != nil {
		slog.Warn("Market snapshot not saved", slog.Any("error", err))
		return
	}
	if err := b.Snapshots.Cleanup(keepSnapshots); err != nil {
		slog.Warn("Market snapshot cleanup failed", slog.Any("error", err))
	}
}

// Shutdown stops the components in reverse start order. Safe to call on a
// partially initialized Bootstrap.
func (b *Bootstrap) Shutdown() {
	if b.Poller != nil {
		b.Poller.Stop()
	}
	if b.Alerts != nil {
		b.Alerts.Stop()
	}
	if b.Mirror != nil {
		b.Mirror.Stop()
		b.Mirror.Close()
	}
	if b.Stream != nil {
		b.Stream.Close()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Warn("Store close failed", slog.Any("error", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
	slog.Info("👋 Shutdown complete")
}

func streamOptions(cfg *infra.Config) binance.Options {
	retries := 0 // manager default
	if n := cfg.Stream.MaxRetries; n != nil {
		retries = *n
		if retries == 0 {
			retries = binance.NoRetries
		}
	}
	return binance.Options{
		BaseURL:    cfg.Stream.URL,
		MaxRetries: retries,
		Backoff: infra.Backoff{
			Base: time.Duration(cfg.Stream.BackoffBaseMS) * time.Millisecond,
			Max:  time.Duration(cfg.Stream.BackoffMaxMS) * time.Millisecond,
		},
		ReadTimeout:         time.Duration(cfg.Stream.ReadTimeoutSec) * time.Second,
		PingInterval:        time.Duration(cfg.Stream.PingIntervalSec) * time.Second,
		ResubscribeCooldown: time.Duration(cfg.Stream.ResubscribeCooldownSec) * time.Second,
	}
}
