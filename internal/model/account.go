package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemActor is the actor id recorded for mutations the service performs on
// its own behalf, such as auto-approvals and scheduled allowance payments.
const SystemActor = "system"

type Account struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Balance             decimal.Decimal `json:"balance"`
	WeeklyAllowance     decimal.Decimal `json:"weekly_allowance"`
	LastAllowanceAnchor *time.Time      `json:"last_allowance_anchor,omitempty"`
	Timezone            string          `json:"timezone"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Location resolves the account's timezone, falling back to UTC when the
// stored name is empty or unknown.
func (a *Account) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
