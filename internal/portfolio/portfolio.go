package portfolio

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"
)

// BalanceLister reads a user's balances.
type BalanceLister interface {
	ListBalances(ctx context.Context, userID string) ([]domain.Balance, error)
}

// Pricer resolves the USDT price of a currency.
type Pricer interface {
	Price(symbol string) (decimal.Decimal, error)
}

// Holding is one valued position.
type Holding struct {
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Value         decimal.Decimal `json:"value"`
	AllocationPct decimal.Decimal `json:"allocation_pct"`
	Priced        bool            `json:"priced"`
}

// Summary is a valued portfolio.
type Summary struct {
	UserID     string          `json:"user_id"`
	TotalValue decimal.Decimal `json:"total_value"`
	Holdings   []Holding       `json:"holdings"`
}

// Valuer values portfolios at the merged market price.
type Valuer struct {
	balances BalanceLister
	pricer   Pricer
}

func NewValuer(balances BalanceLister, pricer Pricer) *Valuer {
	return &Valuer{balances: balances, pricer: pricer}
}

// Value loads the user's balances and values them.
func (v *Valuer) Value(ctx context.Context, userID string) (Summary, error) {
	balances, err := v.balances.ListBalances(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	s := Calculate(balances, v.pricer)
	s.UserID = userID
	return s, nil
}

var hundred = decimal.NewFromInt(100)

// Calculate values balances. USDT counts at face value; a currency without
// a price counts as 0. Holdings are sorted by value, largest first.
func Calculate(balances []domain.Balance, pricer Pricer) Summary {
	s := Summary{TotalValue: decimal.Zero, Holdings: make([]Holding, 0, len(balances))}

	for _, b := range balances {
		h := Holding{Currency: b.Currency, Amount: b.Amount, Price: decimal.Zero, Value: decimal.Zero}
		if b.Currency == domain.QuoteCurrency {
			h.Price = decimal.NewFromInt(1)
			h.Priced = true
		} else if p, err := pricer.Price(b.Currency); err == nil {
			h.Price = p
			h.Priced = true
		}
		h.Value = b.Amount.Mul(h.Price)
		s.TotalValue = s.TotalValue.Add(h.Value)
		s.Holdings = append(s.Holdings, h)
	}

	for i := range s.Holdings {
		if s.TotalValue.IsPositive() {
			s.Holdings[i].AllocationPct = s.Holdings[i].Value.Div(s.TotalValue).Mul(hundred).Round(2)
		} else {
			s.Holdings[i].AllocationPct = decimal.Zero
		}
	}

	sort.SliceStable(s.Holdings, func(i, j int) bool {
		return s.Holdings[i].Value.GreaterThan(s.Holdings[j].Value)
	})
	return s
}
