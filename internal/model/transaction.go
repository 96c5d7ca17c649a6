package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

func (k Kind) Valid() bool {
	return k == KindCredit || k == KindDebit
}

type Transaction struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	Kind         Kind            `json:"kind"`
	Description  string          `json:"description"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	ActorID      string          `json:"actor_id"`
	SourceRef    *string         `json:"source_ref,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Signed returns the amount as a balance delta: positive for credits,
// negative for debits.
func (t Transaction) Signed() decimal.Decimal {
	if t.Kind == KindDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
