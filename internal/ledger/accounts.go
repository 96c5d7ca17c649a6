package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/store"
	"github.com/shopspring/decimal"
)

type NewAccount struct {
	Name            string
	Timezone        string
	WeeklyAllowance decimal.Decimal
}

// OpenAccount creates an account with a zero balance.
func (e *Engine) OpenAccount(ctx context.Context, n NewAccount) (*model.Account, error) {
	name := strings.TrimSpace(n.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	}
	if n.Timezone == "" {
		n.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(n.Timezone); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", model.ErrInvalidInput, n.Timezone)
	}
	if err := model.ValidateNonNegative(n.WeeklyAllowance); err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	a := &model.Account{
		Name:            name,
		Balance:         decimal.Zero,
		WeeklyAllowance: n.WeeklyAllowance,
		Timezone:        n.Timezone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	e.logger.Info("account opened", "account_id", a.ID, "name", a.Name)
	return a, nil
}

func (e *Engine) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("account %d: %w", accountID, model.ErrNotFound)
	}
	return a, nil
}

func (e *Engine) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return e.store.ListAccounts(ctx)
}

func (e *Engine) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	a, err := e.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// ListTransactions returns the account's transactions newest first.
func (e *Engine) ListTransactions(ctx context.Context, accountID int64, f store.TransactionFilter) ([]model.Transaction, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidKind, f.Kind)
	}
	if _, err := e.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.ListTransactions(ctx, accountID, f)
}

// Verify replays the account's transactions from zero and checks every
// recorded balance_after and the stored balance against the replay.
func (e *Engine) Verify(ctx context.Context, accountID int64) error {
	var acct *model.Account
	var txns []model.Transaction
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		if acct, err = q.GetAccount(ctx, accountID); err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("account %d: %w", accountID, model.ErrNotFound)
		}
		txns, err = q.ReplayTransactions(ctx, accountID)
		return err
	})
	if err != nil {
		return err
	}

	running := decimal.Zero
	for _, t := range txns {
		running = running.Add(t.Signed())
		if running.IsNegative() {
			return fmt.Errorf("%w: transaction %d takes the balance to %s", model.ErrLedgerCorrupt, t.ID, running)
		}
		if !running.Equal(t.BalanceAfter) {
			return fmt.Errorf("%w: transaction %d records balance %s, replay gives %s",
				model.ErrLedgerCorrupt, t.ID, t.BalanceAfter, running)
		}
	}
	if !running.Equal(acct.Balance) {
		return fmt.Errorf("%w: account balance %s, replay gives %s", model.ErrLedgerCorrupt, acct.Balance, running)
	}
	return nil
}
