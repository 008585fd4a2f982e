package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"shadow_exchange/internal/alerting"
	"shadow_exchange/internal/domain"
	"shadow_exchange/internal/execution"
)

func nowUnixM() int64 {
	return time.Now().UnixMicro()
}

func (s *Server) getBalances(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.deps.Executor.EnsureWallet(ctx, userID(c)); err != nil {
		s.writeError(c, err)
		return
	}
	balances, err := s.deps.Store.ListBalances(ctx, userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func (s *Server) getTransactions(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	txs, err := s.deps.Store.ListTransactions(c.Request.Context(), userID(c), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (s *Server) getPortfolio(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.deps.Executor.EnsureWallet(ctx, userID(c)); err != nil {
		s.writeError(c, err)
		return
	}
	summary, err := s.deps.Valuer.Value(ctx, userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type tradeRequest struct {
	Side   string          `json:"side"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) bindTrade(c *gin.Context) (execution.Side, tradeRequest, bool) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return "", req, false
	}
	side, err := execution.ParseSide(req.Side)
	if err != nil {
		s.writeError(c, err)
		return "", req, false
	}
	return side, req, true
}

func (s *Server) postQuote(c *gin.Context) {
	side, req, ok := s.bindTrade(c)
	if !ok {
		return
	}
	q, err := s.deps.Executor.Quote(side, req.Symbol, req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) postTrade(c *gin.Context) {
	side, req, ok := s.bindTrade(c)
	if !ok {
		return
	}
	tx, err := s.deps.Executor.Trade(c.Request.Context(), userID(c), side, req.Symbol, req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) postDeposit(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	tx, err := s.deps.Executor.Deposit(c.Request.Context(), userID(c), req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) postWithdraw(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	tx, err := s.deps.Executor.Withdraw(c.Request.Context(), userID(c), req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) getAlerts(c *gin.Context) {
	alerts, err := s.deps.Store.ListAlerts(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	active, triggered := alerting.Views(alerts, s.deps.Pricer)
	c.JSON(http.StatusOK, gin.H{"active": active, "triggered": triggered})
}

func (s *Server) postAlert(c *gin.Context) {
	var req struct {
		Currency    string          `json:"currency"`
		TargetPrice decimal.Decimal `json:"target_price"`
		Condition   string          `json:"condition"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	a, err := alerting.NewAlert(userID(c), req.Currency, req.TargetPrice, req.Condition)
	if err != nil {
		s.writeError(c, err)
		return
	}
	a, err = s.deps.Store.CreateAlert(c.Request.Context(), a)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.deps.Alerts != nil {
		s.deps.Alerts.Track(a)
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) deleteAlert(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Store.DeleteAlert(c.Request.Context(), userID(c), id); err != nil {
		s.writeError(c, err)
		return
	}
	if s.deps.Alerts != nil {
		s.deps.Alerts.Forget(id)
	}
	c.Status(http.StatusNoContent)
}

// watchedCoin is a watchlist row with the coin's live-merged market record.
// Coin is nil when the currency is not in the current market list.
type watchedCoin struct {
	domain.WatchlistItem
	Coin *domain.Coin `json:"coin"`
}

// getWatchlist lists the user's watched currencies. With ?coins=1 each row
// carries its live-priced coin.
func (s *Server) getWatchlist(c *gin.Context) {
	items, err := s.deps.Store.ListWatchlist(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if withCoins, _ := strconv.ParseBool(c.Query("coins")); !withCoins {
		c.JSON(http.StatusOK, items)
		return
	}

	out := make([]watchedCoin, len(items))
	for i, item := range items {
		out[i].WatchlistItem = item
		if coin, ok := s.deps.Market.CoinBySymbol(item.Currency); ok {
			enhanced := s.deps.Cache.GetEnhancedCoin(coin)
			out[i].Coin = &enhanced
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) postWatchlist(c *gin.Context) {
	var req struct {
		Currency string `json:"currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	cur := domain.NormalizeCurrency(req.Currency)
	if cur == "" {
		badRequest(c, "currency is required")
		return
	}
	if err := s.deps.Store.AddToWatchlist(c.Request.Context(), userID(c), cur); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"currency": cur})
}

func (s *Server) deleteWatchlist(c *gin.Context) {
	if err := s.deps.Store.RemoveFromWatchlist(c.Request.Context(), userID(c), c.Param("currency")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// getProfile creates the default profile on first read.
func (s *Server) getProfile(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := s.deps.Store.GetProfile(ctx, userID(c))
	if errors.Is(err, domain.ErrNotFound) {
		p, err = s.deps.Store.UpsertProfile(ctx, domain.Profile{UserID: userID(c), Username: domain.DefaultUsername})
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) putProfile(c *gin.Context) {
	var req struct {
		Username  string  `json:"username"`
		AvatarURL *string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Username)
	if name == "" {
		badRequest(c, "username is required")
		return
	}
	if req.AvatarURL != nil && strings.TrimSpace(*req.AvatarURL) == "" {
		req.AvatarURL = nil
	}

	ctx := c.Request.Context()
	p, err := s.deps.Store.GetProfile(ctx, userID(c))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.writeError(c, err)
		return
	}
	p.UserID = userID(c)
	p.Username = name
	p.AvatarURL = req.AvatarURL

	p, err = s.deps.Store.UpsertProfile(ctx, p)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
