package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ChoreStatus string

const (
	ChoreAssigned   ChoreStatus = "assigned"
	ChoreInProgress ChoreStatus = "in_progress"
	ChoreCompleted  ChoreStatus = "completed"
	ChoreApproved   ChoreStatus = "approved"
	ChoreRejected   ChoreStatus = "rejected"
	ChoreExpired    ChoreStatus = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s ChoreStatus) Terminal() bool {
	switch s {
	case ChoreApproved, ChoreRejected, ChoreExpired:
		return true
	}
	return false
}

func (s ChoreStatus) Valid() bool {
	switch s {
	case ChoreAssigned, ChoreInProgress, ChoreCompleted, ChoreApproved, ChoreRejected, ChoreExpired:
		return true
	}
	return false
}

type ChoreTemplate struct {
	ID                int64           `json:"id"`
	AccountID         int64           `json:"account_id"`
	Title             string          `json:"title"`
	Reward            decimal.Decimal `json:"reward"`
	Recurrence        string          `json:"recurrence"`
	Active            bool            `json:"active"`
	LastGeneratedDate *Date           `json:"last_generated_date,omitempty"`
	RequirePhoto      bool            `json:"require_photo"`
	AutoApproveAfter  *time.Duration  `json:"auto_approve_after,omitempty"`
	DueAfter          *time.Duration  `json:"due_after,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type ChoreInstance struct {
	ID                     int64           `json:"id"`
	TemplateID             *int64          `json:"template_id,omitempty"`
	AccountID              int64           `json:"account_id"`
	Title                  string          `json:"title"`
	Reward                 decimal.Decimal `json:"reward"`
	RequirePhoto           bool            `json:"require_photo"`
	GeneratedFor           *Date           `json:"generated_for,omitempty"`
	DueDate                *time.Time      `json:"due_date,omitempty"`
	Status                 ChoreStatus     `json:"status"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`
	ReviewedAt             *time.Time      `json:"reviewed_at,omitempty"`
	ReviewerID             *string         `json:"reviewer_id,omitempty"`
	ReviewNotes            string          `json:"review_notes,omitempty"`
	ProofRef               *string         `json:"proof_ref,omitempty"`
	ResultingTransactionID *int64          `json:"resulting_transaction_id,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// PastDue reports whether the instance has a due date strictly before now.
func (c *ChoreInstance) PastDue(now time.Time) bool {
	return c.DueDate != nil && c.DueDate.Before(now)
}
