package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"
)

// Ledger is the persistence the executor writes through.
type Ledger interface {
	// GetBalance returns domain.ErrNotFound when the user holds none.
	GetBalance(ctx context.Context, userID, currency string) (domain.Balance, error)

	// UpsertBalance writes a balance keyed by (user, currency).
	UpsertBalance(ctx context.Context, b domain.Balance) (domain.Balance, error)

	// ApplyTrade debits, credits and records tx atomically.
	ApplyTrade(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
}

// Pricer resolves the USDT price of a currency.
type Pricer interface {
	Price(symbol string) (decimal.Decimal, error)
}
