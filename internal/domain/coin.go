package domain

// Coin is a market record from the REST collaborator.
// Field names follow the upstream JSON so records pass through unchanged.
type Coin struct {
	ID                       string     `json:"id"`
	Symbol                   string     `json:"symbol"`
	Name                     string     `json:"name"`
	Image                    string     `json:"image"`
	CurrentPrice             float64    `json:"current_price"`
	MarketCap                float64    `json:"market_cap"`
	MarketCapRank            int        `json:"market_cap_rank"`
	PriceChangePercentage24h float64    `json:"price_change_percentage_24h"`
	PriceChangePercentage7d  *float64   `json:"price_change_percentage_7d_in_currency,omitempty"`
	TotalVolume              float64    `json:"total_volume"`
	High24h                  float64    `json:"high_24h"`
	Low24h                   float64    `json:"low_24h"`
	CirculatingSupply        float64    `json:"circulating_supply"`
	SparklineIn7d            *Sparkline `json:"sparkline_in_7d,omitempty"`
}

// Sparkline holds the 7 day price series.
type Sparkline struct {
	Price []float64 `json:"price"`
}

// GlobalStats are aggregate market figures.
type GlobalStats struct {
	TotalMarketCap               float64 `json:"total_market_cap"`
	TotalVolume                  float64 `json:"total_volume"`
	MarketCapChangePercentage24h float64 `json:"market_cap_change_percentage_24h"`
	ActiveCryptocurrencies       int     `json:"active_cryptocurrencies"`
	UpdatedAtUnixM               int64   `json:"updated_at,string"`
}

// TrendingCoin is one entry of the trending search list.
type TrendingCoin struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Thumb         string `json:"thumb"`
	MarketCapRank int    `json:"market_cap_rank"`
	Score         int    `json:"score"`
}

// ChartData is a historical series; each point is [unix_ms, value].
type ChartData struct {
	Prices       [][2]float64 `json:"prices"`
	MarketCaps   [][2]float64 `json:"market_caps"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// CoinDetail is the single-coin record.
type CoinDetail struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Homepage      string `json:"homepage,omitempty"`
	MarketCapRank int    `json:"market_cap_rank"`
}
