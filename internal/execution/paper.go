package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"shadow_exchange/internal/domain"
)

// Side is the direction of a trade against USDT.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide normalizes a side string.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: side must be buy or sell", domain.ErrInvalidTrade)
	}
}

// Quote is a priced trade preview.
type Quote struct {
	Side         Side            `json:"side"`
	Symbol       string          `json:"symbol"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	FromAmount   decimal.Decimal `json:"from_amount"`
	ToAmount     decimal.Decimal `json:"to_amount"`
	Price        decimal.Decimal `json:"price"`
}

// TradeExecutor simulates trades against stored balances at the merged
// market price.
type TradeExecutor struct {
	ledger Ledger
	pricer Pricer

	// Seeded into a wallet that has never held USDT
	startingUSDT decimal.Decimal

	// Serializes balance checks and writes per process
	mu sync.Mutex

	now func() time.Time
}

// NewTradeExecutor creates an executor. Wallets start empty.
func NewTradeExecutor(ledger Ledger, pricer Pricer) *TradeExecutor {
	return &TradeExecutor{
		ledger:       ledger,
		pricer:       pricer,
		startingUSDT: decimal.Zero,
		now:          time.Now,
	}
}

// WithStartingUSDT seeds new wallets with amount.
func (e *TradeExecutor) WithStartingUSDT(amount decimal.Decimal) *TradeExecutor {
	e.startingUSDT = amount
	return e
}

// Quote prices a trade of amount. A buy spends amount USDT; a sell spends
// amount of the coin.
func (e *TradeExecutor) Quote(side Side, symbol string, amount decimal.Decimal) (Quote, error) {
	symbol = domain.NormalizeCurrency(symbol)
	if symbol == "" || symbol == domain.QuoteCurrency || symbol == domain.FiatCurrency {
		return Quote{}, fmt.Errorf("%w: cannot trade %q against %s", domain.ErrInvalidTrade, symbol, domain.QuoteCurrency)
	}
	if !amount.IsPositive() {
		return Quote{}, domain.ErrInvalidAmount
	}

	price, err := e.pricer.Price(symbol)
	if err != nil {
		return Quote{}, err
	}
	if !price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, symbol)
	}

	q := Quote{Side: side, Symbol: symbol, Price: price, FromAmount: amount}
	switch side {
	case SideBuy:
		q.FromCurrency = domain.QuoteCurrency
		q.ToCurrency = symbol
		q.ToAmount = amount.DivRound(price, 18)
	case SideSell:
		q.FromCurrency = symbol
		q.ToCurrency = domain.QuoteCurrency
		q.ToAmount = amount.Mul(price)
	default:
		return Quote{}, fmt.Errorf("%w: side must be buy or sell", domain.ErrInvalidTrade)
	}
	return q, nil
}

// Trade quotes and executes a market trade for userID.
func (e *TradeExecutor) Trade(ctx context.Context, userID string, side Side, symbol string, amount decimal.Decimal) (domain.Transaction, error) {
	q, err := e.Quote(side, symbol, amount)
	if err != nil {
		return domain.Transaction{}, err
	}
	txType := domain.TxBuy
	if side == SideSell {
		txType = domain.TxSell
	}
	return e.ExecuteTrade(ctx, userID, q.FromCurrency, q.ToCurrency, q.FromAmount, q.ToAmount, q.Price, txType)
}

// ExecuteTrade moves fromAmount of from into toAmount of to and records
// the transaction. The source balance must cover fromAmount.
func (e *TradeExecutor) ExecuteTrade(ctx context.Context, userID, from, to string, fromAmount, toAmount, price decimal.Decimal, txType domain.TxType) (domain.Transaction, error) {
	from = domain.NormalizeCurrency(from)
	to = domain.NormalizeCurrency(to)

	if userID == "" {
		return domain.Transaction{}, fmt.Errorf("%w: missing user", domain.ErrInvalidTrade)
	}
	if from == "" || to == "" || from == to {
		return domain.Transaction{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTrade, from, to)
	}
	if !fromAmount.IsPositive() || !toAmount.IsPositive() {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}
	if !txType.Valid() {
		return domain.Transaction{}, fmt.Errorf("%w: type %q", domain.ErrInvalidTrade, txType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureWalletLocked(ctx, userID); err != nil {
		return domain.Transaction{}, err
	}

	tx, err := e.ledger.ApplyTrade(ctx, domain.Transaction{
		UserID:             userID,
		Type:               txType,
		FromCurrency:       from,
		ToCurrency:         to,
		FromAmount:         fromAmount,
		ToAmount:           toAmount,
		PriceAtTransaction: price,
		CreatedAtUnixM:     e.now().UnixMicro(),
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	slog.Info("PAPER EXECUTION: Trade Filled",
		slog.String("id", tx.ID),
		slog.String("user", userID),
		slog.String("type", string(txType)),
		slog.String("from", from+" "+fromAmount.String()),
		slog.String("to", to+" "+toAmount.String()),
		slog.String("price", price.String()))

	return tx, nil
}

// Deposit credits amount USDT, recorded as a buy of USDT with USD at 1.
func (e *TradeExecutor) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (domain.Transaction, error) {
	one := decimal.NewFromInt(1)
	return e.ExecuteTrade(ctx, userID, domain.FiatCurrency, domain.QuoteCurrency, amount, amount, one, domain.TxBuy)
}

// Withdraw debits amount USDT, recorded as a sell of USDT for USD at 1.
func (e *TradeExecutor) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (domain.Transaction, error) {
	one := decimal.NewFromInt(1)
	return e.ExecuteTrade(ctx, userID, domain.QuoteCurrency, domain.FiatCurrency, amount, amount, one, domain.TxSell)
}

// EnsureWallet seeds the starting USDT balance of a new wallet.
func (e *TradeExecutor) EnsureWallet(ctx context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureWalletLocked(ctx, userID)
}

func (e *TradeExecutor) ensureWalletLocked(ctx context.Context, userID string) error {
	if !e.startingUSDT.IsPositive() {
		return nil
	}
	_, err := e.ledger.GetBalance(ctx, userID, domain.QuoteCurrency)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if _, err := e.ledger.UpsertBalance(ctx, domain.Balance{
		UserID:   userID,
		Currency: domain.QuoteCurrency,
		Amount:   e.startingUSDT,
	}); err != nil {
		return fmt.Errorf("failed to seed wallet: %w", err)
	}
	slog.Info("Wallet seeded", slog.String("user", userID), slog.String("usdt", e.startingUSDT.String()))
	return nil
}
