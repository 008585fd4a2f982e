package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"
)

// CoinLookup finds the REST record of a coin by ticker.
type CoinLookup interface {
	CoinBySymbol(symbol string) (domain.Coin, bool)
}

// MarketPricer resolves a currency's USDT price from the merged view:
// the live sample when present, else the REST record.
type MarketPricer struct {
	cache *PriceCache
	coins CoinLookup
}

// NewMarketPricer combines the cache with a coin lookup. coins may be nil.
func NewMarketPricer(cache *PriceCache, coins CoinLookup) *MarketPricer {
	return &MarketPricer{cache: cache, coins: coins}
}

// Price returns the USDT price of symbol. USDT is always 1.
func (p *MarketPricer) Price(symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == domain.QuoteCurrency {
		return decimal.NewFromInt(1), nil
	}

	var price float64
	if p.coins != nil {
		if coin, ok := p.coins.CoinBySymbol(symbol); ok {
			price = p.cache.GetEnhancedCoin(coin).CurrentPrice
		}
	}
	if price == 0 {
		if s, ok := p.cache.GetPrice(symbol); ok {
			price = s.Price
		}
	}
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, symbol)
	}
	return decimal.NewFromFloat(price), nil
}
