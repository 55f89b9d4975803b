package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is what gets stored with a record.
type TransactionKind string

const (
	KindDeposit  TransactionKind = "deposit"
	KindTransfer TransactionKind = "transfer"
)

// Transaction is an immutable record of a deposit or a transfer.
// Deposits carry no recipient.
type Transaction struct {
	ID                  string          `json:"id"`
	SenderUID           string          `json:"sender_uid"`
	RecipientUID        string          `json:"recipient_uid,omitempty"`
	RecipientNationalID string          `json:"recipient_national_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description"`
	Kind                TransactionKind `json:"kind"`
	CreatedAt           time.Time       `json:"created_at"`
}

// EntryKind is the kind of a record as seen by one user. It is derived
// at read time and never stored.
type EntryKind string

const (
	EntryDeposit  EntryKind = "deposit"
	EntryOutgoing EntryKind = "outgoing"
	EntryIncoming EntryKind = "incoming"
)

type HistoryEntry struct {
	Transaction
	Entry EntryKind `json:"entry"`
}

// EntryFor derives the kind of t from the point of view of uid.
func EntryFor(t Transaction, uid string) EntryKind {
	switch {
	case t.Kind == KindDeposit:
		return EntryDeposit
	case t.SenderUID == uid:
		return EntryOutgoing
	default:
		return EntryIncoming
	}
}
