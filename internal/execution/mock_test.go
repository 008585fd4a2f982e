package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"
)

func TestMemoryLedger_ImplementsInterface(t *testing.T) {
	var _ Ledger = (*MemoryLedger)(nil) // Compile-time check
}

func TestMemoryLedger_ApplyTrade(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	_, err := l.ApplyTrade(ctx, domain.Transaction{
		UserID: "u1", FromCurrency: "ETH", ToCurrency: "USDT",
		FromAmount: decimal.NewFromInt(1), ToAmount: decimal.NewFromInt(3000),
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	l.UpsertBalance(ctx, domain.Balance{UserID: "u1", Currency: "eth", Amount: decimal.NewFromInt(2)})
	if _, err := l.ApplyTrade(ctx, domain.Transaction{
		UserID: "u1", FromCurrency: "ETH", ToCurrency: "usdt",
		FromAmount: decimal.NewFromInt(1), ToAmount: decimal.NewFromInt(3000),
	}); err != nil {
		t.Fatal(err)
	}

	list, _ := l.ListBalances(ctx, "u1")
	if len(list) != 2 || list[0].Currency != "ETH" || list[1].Currency != "USDT" {
		t.Fatalf("unexpected balances: %+v", list)
	}
	if !list[0].Amount.Equal(decimal.NewFromInt(1)) || !list[1].Amount.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("unexpected amounts: %s, %s", list[0].Amount, list[1].Amount)
	}
	if len(l.Transactions()) != 1 {
		t.Errorf("expected 1 recorded transaction")
	}
}
