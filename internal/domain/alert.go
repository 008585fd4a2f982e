package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AlertCondition is the side of the target an alert waits for.
type AlertCondition string

const (
	ConditionAbove AlertCondition = "above"
	ConditionBelow AlertCondition = "below"
)

// ParseAlertCondition normalizes a condition string.
func ParseAlertCondition(s string) (AlertCondition, error) {
	switch AlertCondition(strings.ToLower(strings.TrimSpace(s))) {
	case ConditionAbove:
		return ConditionAbove, nil
	case ConditionBelow:
		return ConditionBelow, nil
	default:
		return "", ErrInvalidCondition
	}
}

// closeBand is the relative distance at which an alert counts as close.
var closeBand = decimal.NewFromFloat(0.05)

// PriceAlert fires once when the live price crosses TargetPrice.
type PriceAlert struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	Currency         string          `json:"currency" db:"currency"`
	TargetPrice      decimal.Decimal `json:"target_price" db:"target_price"`
	Condition        AlertCondition  `json:"condition" db:"condition"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	TriggeredAtUnixM *int64          `json:"triggered_at" db:"triggered_at"` // nil until fired
	CreatedAtUnixM   int64           `json:"created_at,string" db:"created_at"`
}

// CheckCondition reports whether price satisfies the alert.
func (a *PriceAlert) CheckCondition(price decimal.Decimal) bool {
	if !a.IsActive {
		return false
	}
	switch a.Condition {
	case ConditionAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case ConditionBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	default:
		return false
	}
}

// IsClose reports whether price is within 5% of the target.
func (a *PriceAlert) IsClose(price decimal.Decimal) bool {
	if a.TargetPrice.IsZero() {
		return false
	}
	dist := price.Sub(a.TargetPrice).Div(a.TargetPrice).Abs()
	return dist.LessThan(closeBand)
}

// Trigger deactivates the alert and stamps the firing time.
func (a *PriceAlert) Trigger(tsUnixM int64) {
	a.IsActive = false
	ts := tsUnixM
	a.TriggeredAtUnixM = &ts
}

// SplitAlerts separates active alerts from triggered ones, preserving order.
func SplitAlerts(alerts []PriceAlert) (active, triggered []PriceAlert) {
	for _, a := range alerts {
		if a.IsActive {
			active = append(active, a)
		} else {
			triggered = append(triggered, a)
		}
	}
	return active, triggered
}
