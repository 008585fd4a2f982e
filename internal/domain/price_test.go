package domain

import (
	"testing"
	"time"
)

func fp(f float64) *float64 { return &f }

func TestDirectionOf(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		previous *float64
		want     Direction
	}{
		{"first sample", 100, nil, DirectionNeutral},
		{"increase", 101, fp(100), DirectionUp},
		{"decrease", 99, fp(100), DirectionDown},
		{"unchanged", 100, fp(100), DirectionNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DirectionOf(tt.price, tt.previous); got != tt.want {
				t.Errorf("DirectionOf(%v) = %s, want %s", tt.price, got, tt.want)
			}
		})
	}
}

func TestNewPriceSample_CopiesPrevious(t *testing.T) {
	prev := 10.0
	s := NewPriceSample("btc", 11, 1.5, &prev, time.Unix(0, 0))
	prev = 50

	if s.Symbol != "BTC" {
		t.Errorf("symbol should be upper-cased, got %s", s.Symbol)
	}
	if !s.HasPrevious() || *s.PreviousPrice != 10 {
		t.Errorf("previous price should be a detached copy, got %v", s.PreviousPrice)
	}
	if s.Direction != DirectionUp {
		t.Errorf("expected up, got %s", s.Direction)
	}
}

func TestIsStableQuote(t *testing.T) {
	for _, s := range []string{"USDT", "usdt", " usdc "} {
		if !IsStableQuote(s) {
			t.Errorf("%q should be a stable quote", s)
		}
	}
	if IsStableQuote("BTC") {
		t.Error("BTC is not a stable quote")
	}
}
