package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shadow_exchange/internal/alerting"
	"shadow_exchange/internal/domain"
	"shadow_exchange/internal/engine"
	"shadow_exchange/internal/execution"
	"shadow_exchange/internal/infra"
	"shadow_exchange/internal/portfolio"
)

// UserHeader carries the opaque caller identity.
const UserHeader = "X-User-ID"

// MarketData is the latest REST snapshot of the market.
type MarketData interface {
	Coins() []domain.Coin
	CoinByID(id string) (domain.Coin, bool)
	CoinBySymbol(symbol string) (domain.Coin, bool)
	Global() (domain.GlobalStats, bool)
	Trending() []domain.TrendingCoin
}

// CoinSource fetches per-coin data on demand.
type CoinSource interface {
	FetchChart(ctx context.Context, id string, days int) (domain.ChartData, error)
	FetchCoin(ctx context.Context, id string) (domain.CoinDetail, error)
}

// StreamControl exposes the live stream's status.
type StreamControl interface {
	State() infra.ConnState
	Symbols() []string
	IsConnected() bool
	Reconnect() error
}

// MarketHealth reports the state of the market data API.
type MarketHealth interface {
	BreakerStats() infra.BreakerStats
}

// AccountStore is the per-user persistence behind /api/me.
type AccountStore interface {
	ListBalances(ctx context.Context, userID string) ([]domain.Balance, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	ListAlerts(ctx context.Context, userID string) ([]domain.PriceAlert, error)
	CreateAlert(ctx context.Context, a domain.PriceAlert) (domain.PriceAlert, error)
	DeleteAlert(ctx context.Context, userID, id string) error
	ListWatchlist(ctx context.Context, userID string) ([]domain.WatchlistItem, error)
	AddToWatchlist(ctx context.Context, userID, currency string) error
	RemoveFromWatchlist(ctx context.Context, userID, currency string) error
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	UpsertProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)
	GetMetadata(ctx context.Context, key string) (string, error)
	UpsertMetadata(ctx context.Context, key, value string, ts int64) error
}

// Deps wires the server to the running components.
type Deps struct {
	Cache    *engine.PriceCache
	Pricer   *engine.MarketPricer
	Market   MarketData
	Coins    CoinSource // optional
	Stream   StreamControl
	Store    AccountStore
	Executor *execution.TradeExecutor
	Valuer   *portfolio.Valuer
	Alerts   *alerting.Monitor // optional
	Health   MarketHealth      // optional

	// Origins allowed to open the price websocket; host patterns
	AllowedOrigins []string
}

// Server is the HTTP surface over the price engine and the accounts.
type Server struct {
	deps   Deps
	router *gin.Engine
	logger *slog.Logger

	// reconnects throttles manual stream restarts.
	reconnects *infra.RateLimiter
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"localhost:*", "127.0.0.1:*"}
	}

	router := gin.New()
	s := &Server{
		deps:       deps,
		router:     router,
		logger:     slog.Default().With("component", "api"),
		reconnects: infra.NewRateLimiter(2, 0.1),
	}
	router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthCheck)

	api := s.router.Group("/api")

	// Stream and market data
	api.GET("/status", s.getStatus)
	api.POST("/stream/reconnect", s.reconnectStream)
	api.GET("/coins", s.getCoins)
	api.GET("/coins/:id", s.getCoin)
	api.GET("/coins/:id/chart", s.getChart)
	api.GET("/global", s.getGlobal)
	api.GET("/trending", s.getTrending)
	api.GET("/prices", s.getPrices)
	api.GET("/prices/:symbol", s.getPrice)
	api.GET("/ws/prices", s.streamPrices)

	// Preferences
	api.GET("/preferences/theme", s.getTheme)
	api.PUT("/preferences/theme", s.putTheme)

	// Per-user routes
	me := api.Group("/me", requireUser())
	me.GET("/balances", s.getBalances)
	me.GET("/transactions", s.getTransactions)
	me.GET("/portfolio", s.getPortfolio)
	me.POST("/quote", s.postQuote)
	me.POST("/trades", s.postTrade)
	me.POST("/wallet/deposit", s.postDeposit)
	me.POST("/wallet/withdraw", s.postWithdraw)
	me.GET("/alerts", s.getAlerts)
	me.POST("/alerts", s.postAlert)
	me.DELETE("/alerts/:id", s.deleteAlert)
	me.GET("/watchlist", s.getWatchlist)
	me.POST("/watchlist", s.postWatchlist)
	me.DELETE("/watchlist/:currency", s.deleteWatchlist)
	me.GET("/profile", s.getProfile)
	me.PUT("/profile", s.putProfile)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("took", time.Since(start)))
	}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(UserHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": UserHeader + " header is required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetHeader(UserHeader)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidTrade),
		errors.Is(err, domain.ErrInvalidCondition),
		errors.Is(err, domain.ErrInvalidTheme):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPriceUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
