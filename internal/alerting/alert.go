package alerting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"
)

// NewAlert validates user input into an unsaved alert.
func NewAlert(userID, currency string, target decimal.Decimal, condition string) (domain.PriceAlert, error) {
	cur := domain.NormalizeCurrency(currency)
	if cur == "" {
		return domain.PriceAlert{}, fmt.Errorf("%w: currency is required", domain.ErrInvalidTrade)
	}
	if !target.IsPositive() {
		return domain.PriceAlert{}, domain.ErrInvalidAmount
	}
	cond, err := domain.ParseAlertCondition(condition)
	if err != nil {
		return domain.PriceAlert{}, err
	}
	return domain.PriceAlert{
		UserID:      userID,
		Currency:    cur,
		TargetPrice: target,
		Condition:   cond,
		IsActive:    true,
	}, nil
}

// Pricer resolves the USDT price of a currency.
type Pricer interface {
	Price(symbol string) (decimal.Decimal, error)
}

// View is an alert with its current market context.
type View struct {
	domain.PriceAlert
	CurrentPrice *decimal.Decimal `json:"current_price,omitempty"`
	IsClose      bool             `json:"is_close"`
}

// Views annotates alerts with the current price and closeness, split into
// active and triggered lists.
func Views(alerts []domain.PriceAlert, pricer Pricer) (active, triggered []View) {
	act, trig := domain.SplitAlerts(alerts)
	return annotate(act, pricer), annotate(trig, pricer)
}

func annotate(alerts []domain.PriceAlert, pricer Pricer) []View {
	out := make([]View, 0, len(alerts))
	for _, a := range alerts {
		v := View{PriceAlert: a}
		if p, err := pricer.Price(a.Currency); err == nil {
			v.CurrentPrice = &p
			v.IsClose = a.IsActive && a.IsClose(p)
		}
		out = append(out, v)
	}
	return out
}
