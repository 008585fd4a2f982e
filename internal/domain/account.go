package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// QuoteCurrency is the settlement currency of every simulated trade.
const QuoteCurrency = "USDT"

// FiatCurrency is the external side of deposits and withdrawals.
const FiatCurrency = "USD"

// Balance is a user's holding of one currency.
type Balance struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Currency       string          `json:"currency" db:"currency"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	CreatedAtUnixM int64           `json:"created_at,string" db:"created_at"`
	UpdatedAtUnixM int64           `json:"updated_at,string" db:"updated_at"`
}

// Covers reports whether the balance can pay amount.
func (b *Balance) Covers(amount decimal.Decimal) bool {
	return b.Amount.GreaterThanOrEqual(amount)
}

// Credit adds amount to the balance.
func (b *Balance) Credit(amount decimal.Decimal, tsUnixM int64) {
	b.Amount = b.Amount.Add(amount)
	b.UpdatedAtUnixM = tsUnixM
}

// Debit subtracts amount. Callers check Covers first.
func (b *Balance) Debit(amount decimal.Decimal, tsUnixM int64) {
	b.Amount = b.Amount.Sub(amount)
	b.UpdatedAtUnixM = tsUnixM
}

// TxType classifies a transaction.
type TxType string

const (
	TxBuy  TxType = "buy"
	TxSell TxType = "sell"
	TxSwap TxType = "swap"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	return t == TxBuy || t == TxSell || t == TxSwap
}

// Transaction is an immutable record of a balance movement.
type Transaction struct {
	ID                 string          `json:"id" db:"id"`
	UserID             string          `json:"user_id" db:"user_id"`
	Type               TxType          `json:"type" db:"type"`
	FromCurrency       string          `json:"from_currency" db:"from_currency"`
	ToCurrency         string          `json:"to_currency" db:"to_currency"`
	FromAmount         decimal.Decimal `json:"from_amount" db:"from_amount"`
	ToAmount           decimal.Decimal `json:"to_amount" db:"to_amount"`
	PriceAtTransaction decimal.Decimal `json:"price_at_transaction" db:"price_at_transaction"`
	CreatedAtUnixM     int64           `json:"created_at,string" db:"created_at"`
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// WatchlistItem is one watched currency.
type WatchlistItem struct {
	ID             string `json:"id" db:"id"`
	UserID         string `json:"user_id" db:"user_id"`
	Currency       string `json:"currency" db:"currency"`
	CreatedAtUnixM int64  `json:"created_at,string" db:"created_at"`
}

// DefaultUsername is assigned to a profile created on first read.
const DefaultUsername = "trader"

// Profile is the user's display identity.
type Profile struct {
	ID             string  `json:"id" db:"id"`
	UserID         string  `json:"user_id" db:"user_id"`
	Username       string  `json:"username" db:"username"`
	AvatarURL      *string `json:"avatar_url" db:"avatar_url"`
	CreatedAtUnixM int64   `json:"created_at,string" db:"created_at"`
	UpdatedAtUnixM int64   `json:"updated_at,string" db:"updated_at"`
}
