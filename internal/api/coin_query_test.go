package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"shadow_exchange/internal/domain"
)

var queryCoins = []domain.Coin{
	{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", MarketCapRank: 1, CurrentPrice: 65000, PriceChangePercentage24h: 1.2, MarketCap: 1.2e12, TotalVolume: 3e10},
	{ID: "ethereum", Symbol: "eth", Name: "Ethereum", MarketCapRank: 2, CurrentPrice: 3000, PriceChangePercentage24h: -2.5, MarketCap: 3.6e11, TotalVolume: 1.5e10},
	{ID: "bitcoin-cash", Symbol: "bch", Name: "Bitcoin Cash", MarketCapRank: 20, CurrentPrice: 450, PriceChangePercentage24h: 4.1, MarketCap: 9e9, TotalVolume: 4e8},
	{ID: "wrapped-bitcoin", Symbol: "wbtc", Name: "Wrapped Bitcoin", MarketCapRank: 0, CurrentPrice: 64900, PriceChangePercentage24h: 1.1, MarketCap: 1e10, TotalVolume: 2e8},
	{ID: "solana", Symbol: "sol", Name: "Solana", MarketCapRank: 5, CurrentPrice: 150, PriceChangePercentage24h: 0.3, MarketCap: 7e10, TotalVolume: 3e9},
}

func queryContext(rawQuery string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/coins?"+rawQuery, nil)
	return c
}

func ids(coins []domain.Coin) string {
	out := make([]string, len(coins))
	for i, c := range coins {
		out[i] = c.ID
	}
	return strings.Join(out, ",")
}

func TestCoinQuery_Apply(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"default is rank ascending, unranked last", "", "bitcoin,ethereum,solana,bitcoin-cash,wrapped-bitcoin"},
		{"search matches name case-insensitively", "q=BITCOIN", "bitcoin,bitcoin-cash,wrapped-bitcoin"},
		{"search matches symbol", "q=so", "solana"},
		{"no match", "q=doge", ""},
		{"price defaults to descending", "sort=price", "bitcoin,wrapped-bitcoin,ethereum,bitcoin-cash,solana"},
		{"explicit ascending order", "sort=price&order=asc", "solana,bitcoin-cash,ethereum,wrapped-bitcoin,bitcoin"},
		{"24h change", "sort=change_24h", "bitcoin-cash,bitcoin,wrapped-bitcoin,solana,ethereum"},
		{"market cap", "sort=market_cap&limit=2", "bitcoin,ethereum"},
		{"volume", "sort=volume&order=desc&limit=3", "bitcoin,ethereum,solana"},
		{"rank descending", "sort=rank&order=desc&limit=1", "wrapped-bitcoin"},
		{"search then limit", "q=bitcoin&limit=2", "bitcoin,bitcoin-cash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := parseCoinQuery(queryContext(tt.query))
			if err != nil {
				t.Fatalf("parse %q: %v", tt.query, err)
			}
			if got := ids(q.apply(queryCoins)); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCoinQuery_Invalid(t *testing.T) {
	for _, raw := range []string{"sort=name", "order=up", "limit=0", "limit=abc", "limit=251"} {
		if _, err := parseCoinQuery(queryContext(raw)); err == nil {
			t.Errorf("%q should be rejected", raw)
		}
	}
}

func TestCoinQuery_DoesNotReorderInput(t *testing.T) {
	in := append([]domain.Coin(nil), queryCoins...)
	q, _ := parseCoinQuery(queryContext("sort=price&order=asc"))
	q.apply(in)
	if ids(in) != ids(queryCoins) {
		t.Errorf("input reordered: %s", ids(in))
	}
}
