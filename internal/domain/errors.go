package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrNotFound            = errors.New("not found")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrInvalidCondition    = errors.New("condition must be above or below")
	ErrInvalidTheme        = errors.New("unknown theme")
	ErrInvalidTrade        = errors.New("invalid trade")
)

// InsufficientBalanceError reports which currency could not cover a debit.
type InsufficientBalanceError struct {
	Currency string
	Need     decimal.Decimal
	Have     decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("Insufficient %s balance", e.Currency)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
