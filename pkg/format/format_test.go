package format

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCurrency(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{2.45e12, "$2.45T"},
		{8.1e10, "$81.00B"},
		{1_234_567, "$1.23M"},
		{1500, "$1.50K"},
		{999.5, "$999.50"},
		{0, "$0.00"},
		{-2_500_000, "-$2.50M"},
	}

	for _, tt := range tests {
		if got := Currency(tt.input); got != tt.expected {
			t.Errorf("Currency(%v) = %s; want %s", tt.input, got, tt.expected)
		}
	}
}

func TestPrice(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{65000.5, "$65,000.50"},
		{1234567.891, "$1,234,567.89"},
		{1000, "$1,000.00"},
		{3.14159, "$3.1416"},
		{1.5, "$1.50"},
		{0.00001234, "$0.00001234"},
		{0.5, "$0.50"},
		{0, "$0.00"},
		{-12.5, "-$12.50"},
	}

	for _, tt := range tests {
		if got := Price(tt.input); got != tt.expected {
			t.Errorf("Price(%v) = %s; want %s", tt.input, got, tt.expected)
		}
	}
}

func TestPercentage(t *testing.T) {
	if got := Percentage(2.5); got != "+2.50%" {
		t.Errorf("Percentage(2.5) = %s", got)
	}
	if got := Percentage(-1.257); got != "-1.26%" {
		t.Errorf("Percentage(-1.257) = %s", got)
	}
}

func TestCryptoAmount(t *testing.T) {
	tests := []struct {
		amount   string
		symbol   string
		expected string
	}{
		{"12345.678", "usdt", "12,345.68 USDT"},
		{"1.23456789", "eth", "1.2346 ETH"},
		{"0.005", "btc", "0.005 BTC"},
		{"0.123456789", "sol", "0.12345679 SOL"},
		{"0", "btc", "0 BTC"},
	}

	for _, tt := range tests {
		got := CryptoAmount(decimal.RequireFromString(tt.amount), tt.symbol)
		if got != tt.expected {
			t.Errorf("CryptoAmount(%s, %s) = %s; want %s", tt.amount, tt.symbol, got, tt.expected)
		}
	}
}

func TestTimeAgo(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago      time.Duration
		expected string
	}{
		{3*24*time.Hour + time.Hour, "3d ago"},
		{5 * time.Hour, "5h ago"},
		{42 * time.Minute, "42m ago"},
		{30 * time.Second, "Just now"},
		{-time.Minute, "Just now"},
	}

	for _, tt := range tests {
		if got := TimeAgo(now.Add(-tt.ago), now); got != tt.expected {
			t.Errorf("TimeAgo(-%v) = %s; want %s", tt.ago, got, tt.expected)
		}
	}
}

// FuzzPrice checks that arbitrary inputs never panic.
func FuzzPrice(f *testing.F) {
	f.Add(0.0)
	f.Add(65000.5)
	f.Add(-0.000000001)
	f.Add(1e300)

	f.Fuzz(func(t *testing.T, v float64) {
		_ = Price(v)
		_ = Currency(v)
	})
}
