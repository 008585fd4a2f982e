package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"shadow_exchange/internal/domain"
)

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"connected": s.deps.Stream.IsConnected(),
		"state":     s.deps.Stream.State().String(),
		"symbols":   s.deps.Stream.Symbols(),
		"cached":    s.deps.Cache.Len(),
	}
	if s.deps.Health != nil {
		resp["market_api"] = s.deps.Health.BreakerStats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) reconnectStream(c *gin.Context) {
	if !s.reconnects.TryAcquire() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "reconnect requested too often"})
		return
	}
	if err := s.deps.Stream.Reconnect(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": s.deps.Stream.State().String()})
}

// getCoins returns the market list with live prices merged in, optionally
// searched (?q), sorted (?sort, ?order) and capped (?limit).
func (s *Server) getCoins(c *gin.Context) {
	q, err := parseCoinQuery(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, q.apply(s.deps.Cache.EnhanceAll(s.deps.Market.Coins())))
}

func (s *Server) getCoin(c *gin.Context) {
	id := c.Param("id")
	coin, listed := s.deps.Market.CoinByID(id)

	resp := gin.H{}
	if listed {
		resp["coin"] = s.deps.Cache.GetEnhancedCoin(coin)
	}
	if s.deps.Coins != nil {
		detail, err := s.deps.Coins.FetchCoin(c.Request.Context(), id)
		if err == nil {
			resp["detail"] = detail
		} else if listed {
			s.logger.Debug("Coin detail unavailable", slog.String("id", id), slog.Any("error", err))
		}
	}

	if len(resp) == 0 {
		s.writeError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getChart(c *gin.Context) {
	if s.deps.Coins == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chart data unavailable"})
		return
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 || days > 365 {
		badRequest(c, "days must be between 1 and 365")
		return
	}

	chart, err := s.deps.Coins.FetchChart(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		s.logger.Warn("Chart fetch failed", slog.String("id", c.Param("id")), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "chart data unavailable"})
		return
	}
	c.JSON(http.StatusOK, chart)
}

func (s *Server) getGlobal(c *gin.Context) {
	g, ok := s.deps.Market.Global()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "global stats not loaded yet"})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) getTrending(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Market.Trending())
}

// getPrices returns every live sample, or those named in ?symbols=.
func (s *Server) getPrices(c *gin.Context) {
	filter := parseSymbols(c.Query("symbols"))
	out := []domain.PriceSample{}
	for _, smp := range s.deps.Cache.Samples() {
		if filter.match(smp.Symbol) {
			out = append(out, smp)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPrice(c *gin.Context) {
	smp, ok := s.deps.Cache.GetPrice(c.Param("symbol"))
	if !ok {
		s.writeError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, smp)
}

func (s *Server) getTheme(c *gin.Context) {
	theme, err := s.deps.Store.GetMetadata(c.Request.Context(), domain.ThemePreferenceKey)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !domain.IsValidTheme(theme) {
		theme = domain.DefaultTheme
	}
	c.JSON(http.StatusOK, gin.H{"theme": theme, "themes": domain.Themes})
}

func (s *Server) putTheme(c *gin.Context) {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	theme := strings.ToLower(strings.TrimSpace(req.Theme))
	if !domain.IsValidTheme(theme) {
		s.writeError(c, domain.ErrInvalidTheme)
		return
	}
	if err := s.deps.Store.UpsertMetadata(c.Request.Context(), domain.ThemePreferenceKey, theme, nowUnixM()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": theme})
}

// symbolFilter is a set of upper-case symbols; empty matches everything.
type symbolFilter map[string]struct{}

func parseSymbols(q string) symbolFilter {
	f := symbolFilter{}
	for _, part := range strings.Split(q, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			f[sym] = struct{}{}
		}
	}
	return f
}

func (f symbolFilter) match(symbol string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[symbol]
	return ok
}
