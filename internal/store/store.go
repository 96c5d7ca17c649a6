package store

import (
	"context"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/shopspring/decimal"
)

// Queries is the persistence surface the ledger and chore workflow need.
// Lookups return (nil, nil) when the row does not exist. Methods ending in
// ForUpdate lock the row for the rest of the enclosing transaction where the
// backend supports row locks.
type Queries interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountForUpdate(ctx context.Context, id int64) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error
	UpdateAllowanceAnchor(ctx context.Context, id int64, anchor time.Time) error
	UpdateWeeklyAllowance(ctx context.Context, id int64, amount decimal.Decimal, at time.Time) error

	InsertTransaction(ctx context.Context, t *model.Transaction) error
	LatestTransaction(ctx context.Context, accountID int64) (*model.Transaction, error)
	ListTransactions(ctx context.Context, accountID int64, f TransactionFilter) ([]model.Transaction, error)
	ReplayTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error)

	CreateTemplate(ctx context.Context, t *model.ChoreTemplate) error
	GetTemplate(ctx context.Context, id int64) (*model.ChoreTemplate, error)
	GetTemplateForUpdate(ctx context.Context, id int64) (*model.ChoreTemplate, error)
	UpdateTemplate(ctx context.Context, t *model.ChoreTemplate) error
	ListTemplates(ctx context.Context, accountID int64) ([]model.ChoreTemplate, error)
	ListActiveTemplates(ctx context.Context) ([]model.ChoreTemplate, error)
	MarkTemplateGenerated(ctx context.Context, id int64, day model.Date, at time.Time) error

	CreateInstance(ctx context.Context, c *model.ChoreInstance) error
	GetInstance(ctx context.Context, id int64) (*model.ChoreInstance, error)
	GetInstanceForUpdate(ctx context.Context, id int64) (*model.ChoreInstance, error)
	UpdateInstance(ctx context.Context, c *model.ChoreInstance) error
	ListInstances(ctx context.Context, f InstanceFilter) ([]model.ChoreInstance, error)
	ListAutoApprovable(ctx context.Context) ([]AutoApproval, error)
	ListExpirable(ctx context.Context, now time.Time) ([]ExpiryCandidate, error)

	CreatePushSubscription(ctx context.Context, s *model.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, accountID int64) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id int64) error
	DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error
}

// Store is Queries plus the ability to run a group of queries as one atomic,
// isolated commit. Errors caused by lock contention are reported wrapping
// model.ErrConcurrencyConflict.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type TransactionFilter struct {
	Kind   model.Kind
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

type InstanceFilter struct {
	AccountID  int64
	TemplateID int64
	Status     model.ChoreStatus
	Limit      int
	Offset     int
}

// AutoApproval is a completed instance whose template auto-approves.
type AutoApproval struct {
	InstanceID  int64
	AccountID   int64
	CompletedAt time.Time
	After       time.Duration
}

type ExpiryCandidate struct {
	InstanceID int64
	AccountID  int64
}

// ClampLimit applies the default and maximum page sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
