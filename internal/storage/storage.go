package storage

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrProfileExists      = errors.New("profile already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

type DepositParams struct {
	UID         string
	Amount      decimal.Decimal
	Description string
}

type TransferParams struct {
	SenderUID           string
	RecipientUID        string
	RecipientNationalID string
	Amount              decimal.Decimal
	Description         string
}
