package execution

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Mode represents the wallet mode
type Mode string

const (
	ModePaper Mode = "paper" // wallets start empty, funded by deposits
	ModeDemo  Mode = "demo"  // new wallets receive a starting USDT balance
)

// DefaultDemoUSDT seeds demo wallets when no amount is configured.
var DefaultDemoUSDT = decimal.NewFromInt(10_000)

// NewExecutorForMode returns the executor configured for mode.
// startingUSDT is only used in demo mode.
func NewExecutorForMode(mode string, ledger Ledger, pricer Pricer, startingUSDT string) (*TradeExecutor, error) {
	slog.Info("Initializing Execution System", "mode", mode)

	switch Mode(mode) {
	case ModePaper:
		return NewTradeExecutor(ledger, pricer), nil

	case ModeDemo:
		seed := DefaultDemoUSDT
		if startingUSDT != "" {
			amt, err := decimal.NewFromString(startingUSDT)
			if err != nil {
				return nil, fmt.Errorf("invalid starting USDT %q: %w", startingUSDT, err)
			}
			if amt.IsPositive() {
				seed = amt
			}
		}
		return NewTradeExecutor(ledger, pricer).WithStartingUSDT(seed), nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}
