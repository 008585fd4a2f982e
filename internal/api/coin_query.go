package api

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"shadow_exchange/internal/domain"
)

// maxCoinLimit caps ?limit on the coin list.
const maxCoinLimit = 250

// coinSorts maps a ?sort key to its value and default direction.
var coinSorts = map[string]struct {
	value func(domain.Coin) float64
	desc  bool
}{
	"rank":       {func(c domain.Coin) float64 { return rankValue(c.MarketCapRank) }, false},
	"price":      {func(c domain.Coin) float64 { return c.CurrentPrice }, true},
	"change_24h": {func(c domain.Coin) float64 { return c.PriceChangePercentage24h }, true},
	"market_cap": {func(c domain.Coin) float64 { return c.MarketCap }, true},
	"volume":     {func(c domain.Coin) float64 { return c.TotalVolume }, true},
}

// coinQuery filters and orders the coin list.
type coinQuery struct {
	search string
	sort   string
	desc   bool
	limit  int // 0 means all
}

func parseCoinQuery(c *gin.Context) (coinQuery, error) {
	q := coinQuery{
		search: strings.ToLower(strings.TrimSpace(c.Query("q"))),
		sort:   strings.ToLower(c.DefaultQuery("sort", "rank")),
	}

	spec, ok := coinSorts[q.sort]
	if !ok {
		return q, fmt.Errorf("unknown sort %q", q.sort)
	}
	q.desc = spec.desc
	switch strings.ToLower(c.Query("order")) {
	case "":
	case "asc":
		q.desc = false
	case "desc":
		q.desc = true
	default:
		return q, fmt.Errorf("order must be asc or desc")
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxCoinLimit {
			return q, fmt.Errorf("limit must be between 1 and %d", maxCoinLimit)
		}
		q.limit = n
	}
	return q, nil
}

// apply returns the matching coins in order. coins is not modified.
func (q coinQuery) apply(coins []domain.Coin) []domain.Coin {
	out := make([]domain.Coin, 0, len(coins))
	for _, coin := range coins {
		if q.matches(coin) {
			out = append(out, coin)
		}
	}

	value := coinSorts[q.sort].value
	sort.SliceStable(out, func(i, j int) bool {
		if q.desc {
			return value(out[i]) > value(out[j])
		}
		return value(out[i]) < value(out[j])
	})

	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}
	return out
}

// matches is a case-insensitive substring match on name or symbol.
func (q coinQuery) matches(coin domain.Coin) bool {
	if q.search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(coin.Name), q.search) ||
		strings.Contains(strings.ToLower(coin.Symbol), q.search)
}

// rankValue sorts unranked coins after ranked ones.
func rankValue(rank int) float64 {
	if rank <= 0 {
		return float64(1 << 30)
	}
	return float64(rank)
}
