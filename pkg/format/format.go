// Package format renders prices, amounts and times for display.
package format

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency renders a USD value compactly: $1.23T, $4.56B, $7.89M, $1.20K.
// Values below a thousand are shown with two decimals.
func Currency(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%s$%.2fT", sign, v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%s$%.2fB", sign, v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%s$%.2fM", sign, v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%s$%.2fK", sign, v/1e3)
	default:
		return fmt.Sprintf("%s$%.2f", sign, v)
	}
}

// Price renders a USD price with precision that grows as the price shrinks.
func Price(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "$-"
	}
	d := decimal.NewFromFloat(v)
	abs := d.Abs()

	minDigits, maxDigits := int32(2), int32(8)
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		maxDigits = 2
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		maxDigits = 4
	}

	s := group(trimFraction(abs.StringFixed(maxDigits), int(minDigits)))
	if d.IsNegative() && !abs.Round(maxDigits).IsZero() {
		return "-$" + s
	}
	return "$" + s
}

// Percentage renders a signed change: +2.50%, -1.25%.
func Percentage(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

// CryptoAmount renders a balance with its currency, e.g. "0.00512 BTC".
func CryptoAmount(amount decimal.Decimal, symbol string) string {
	places := int32(8)
	switch abs := amount.Abs(); {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		places = 2
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		places = 4
	}

	s := amount.Abs().StringFixed(places)
	s = group(trimFraction(s, 0))
	if amount.IsNegative() && s != "0" {
		s = "-" + s
	}
	return s + " " + strings.ToUpper(symbol)
}

// TimeAgo renders how long before now t was, at the coarsest unit.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d >= time.Minute:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	default:
		return "Just now"
	}
}

// trimFraction drops trailing zeros from a fixed-point string, keeping at
// least minDigits fraction digits.
func trimFraction(s string, minDigits int) string {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		if minDigits == 0 {
			return s
		}
		return s + "." + strings.Repeat("0", minDigits)
	}
	end := len(s)
	for end > dot+1+minDigits && s[end-1] == '0' {
		end--
	}
	if end == dot+1 {
		end = dot
	}
	return s[:end]
}

// group inserts thousands separators into the integer part.
func group(s string) string {
	intPart, frac := s, ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart, frac = s[:dot], s[dot:]
	}
	if len(intPart) <= 3 {
		return s
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return b.String() + frac
}
