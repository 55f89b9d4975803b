package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// MaxAmount bounds a single operation. Amounts carry at most two decimals.
var MaxAmount = decimal.New(1, 13)

const (
	amountScale   = 2
	maxAmountText = 32
)

// ParseAmount accepts the plain textual form of a positive number below
// MaxAmount with at most two decimals. Exponent notation is rejected.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxAmountText || strings.ContainsAny(raw, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.IsPositive() || !amount.LessThan(MaxAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.Round(amountScale).Equal(amount) {
		return decimal.Zero, ErrInvalidAmount
	}

	return amount, nil
}

// ApplyDelta returns the balance after an operation of the given kind:
// deposits add, transfers subtract, anything else leaves it unchanged.
func ApplyDelta(balance, amount decimal.Decimal, kind TransactionKind) decimal.Decimal {
	switch kind {
	case KindDeposit:
		return balance.Add(amount)
	case KindTransfer:
		return balance.Sub(amount)
	default:
		return balance
	}
}
