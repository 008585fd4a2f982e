package domain

import (
	"strings"
	"time"
)

// Direction is the movement of a price against the preceding sample.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// StableQuotes are pegged 1:1 to USD and never get a live feed.
var StableQuotes = []string{"USDT", "USDC"}

// IsStableQuote reports whether symbol is a stable-quote reference currency.
func IsStableQuote(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, q := range StableQuotes {
		if s == q {
			return true
		}
	}
	return false
}

// PriceSample is the latest live state of a single symbol.
type PriceSample struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	PriceChange24h float64   `json:"priceChange24h"`
	PreviousPrice  *float64  `json:"previousPrice,omitempty"` // nil on the first sample
	Direction      Direction `json:"direction"`
	LastUpdate     time.Time `json:"lastUpdate"`
}

// HasPrevious reports whether the sample was compared against an earlier one.
func (s PriceSample) HasPrevious() bool {
	return s.PreviousPrice != nil
}

// DirectionOf compares price with the previous sample's price.
func DirectionOf(price float64, previous *float64) Direction {
	if previous == nil {
		return DirectionNeutral
	}
	switch {
	case price > *previous:
		return DirectionUp
	case price < *previous:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

// NewPriceSample builds a sample and derives its direction.
func NewPriceSample(symbol string, price, change24h float64, previous *float64, at time.Time) PriceSample {
	s := PriceSample{
		Symbol:         strings.ToUpper(symbol),
		Price:          price,
		PriceChange24h: change24h,
		Direction:      DirectionOf(price, previous),
		LastUpdate:     at,
	}
	if previous != nil {
		p := *previous
		s.PreviousPrice = &p
	}
	return s
}
