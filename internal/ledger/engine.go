package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/metrics"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/notify"
	"github.com/dukerupert/pocketmoney/internal/store"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

type Options struct {
	// MaxRetries bounds how often a store transaction is retried after a
	// concurrency conflict.
	MaxRetries uint64
	RetryBase  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 10 * time.Millisecond
	}
	return o
}

// Engine is the only writer of account balances. Every mutation appends a
// transaction and updates the balance in one store transaction while holding
// the account's lock.
type Engine struct {
	store  store.Store
	clock  clock.Clock
	events notify.Publisher
	logger *slog.Logger
	locks  *accountLocks
	opts   Options
}

func NewEngine(s store.Store, c clock.Clock, events notify.Publisher, logger *slog.Logger, opts Options) *Engine {
	if events == nil {
		events = notify.Discard
	}
	return &Engine{
		store:  s,
		clock:  c,
		events: events,
		logger: logger.With("component", "ledger"),
		locks:  newAccountLocks(),
		opts:   opts.withDefaults(),
	}
}

type Mutation struct {
	AccountID   int64
	Amount      decimal.Decimal
	Kind        model.Kind
	Description string
	ActorID     string
	SourceRef   *string
}

func (m Mutation) validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidKind, m.Kind)
	}
	if err := model.ValidateAmount(m.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(m.Description) == "" {
		return fmt.Errorf("%w: description is required", model.ErrInvalidInput)
	}
	if m.ActorID == "" {
		return fmt.Errorf("%w: actor is required", model.ErrInvalidInput)
	}
	return nil
}

// Run executes fn in a store transaction while holding accountID's lock.
// Conflicts are retried with jittered exponential backoff, so fn may run
// more than once and must not leak state between attempts.
func (e *Engine) Run(ctx context.Context, accountID int64, fn func(q store.Queries) error) error {
	release, err := e.locks.acquire(ctx, accountID)
	if err != nil {
		return fmt.Errorf("acquire account lock: %w", err)
	}
	defer release()

	backoff := retry.WithMaxRetries(e.opts.MaxRetries,
		retry.WithJitterPercent(20, retry.NewExponential(e.opts.RetryBase)))

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.LedgerConflictRetries.Inc()
		}
		attempt++
		err := e.store.WithTx(ctx, fn)
		if errors.Is(err, model.ErrConcurrencyConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, model.ErrConcurrencyConflict) {
		e.logger.Warn("retries exhausted", "account_id", accountID, "attempts", attempt, "error", err)
	}
	return err
}

// ApplyInTx applies m using q, which must belong to a transaction started by
// Run for m.AccountID. It returns the appended transaction and the account
// with its new balance. The caller publishes the balance event after commit.
func (e *Engine) ApplyInTx(ctx context.Context, q store.Queries, m Mutation) (*model.Transaction, *model.Account, error) {
	if err := m.validate(); err != nil {
		return nil, nil, err
	}

	acct, err := q.GetAccountForUpdate(ctx, m.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, fmt.Errorf("account %d: %w", m.AccountID, model.ErrNotFound)
	}

	txn := &model.Transaction{
		AccountID:   m.AccountID,
		Amount:      m.Amount,
		Kind:        m.Kind,
		Description: m.Description,
		ActorID:     m.ActorID,
		SourceRef:   m.SourceRef,
	}
	next := acct.Balance.Add(txn.Signed())
	if next.IsNegative() {
		return nil, nil, fmt.Errorf("debit %s from balance %s: %w",
			m.Amount.StringFixed(model.MoneyPlaces), acct.Balance.StringFixed(model.MoneyPlaces), model.ErrInsufficientFunds)
	}
	txn.BalanceAfter = next

	// Keep (created_at, id) order equal to commit order when the clock steps back.
	now := e.clock.Now().UTC().Truncate(time.Microsecond)
	latest, err := q.LatestTransaction(ctx, m.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if latest != nil && now.Before(latest.CreatedAt) {
		now = latest.CreatedAt.UTC()
	}
	txn.CreatedAt = now

	if err := q.InsertTransaction(ctx, txn); err != nil {
		return nil, nil, err
	}
	if err := q.UpdateAccountBalance(ctx, acct.ID, next, now); err != nil {
		return nil, nil, err
	}

	acct.Balance = next
	acct.UpdatedAt = now
	return txn, acct, nil
}

// ApplyMutation is the single entry point for direct credits and debits.
func (e *Engine) ApplyMutation(ctx context.Context, m Mutation) (*model.Transaction, error) {
	start := time.Now()
	defer func() { metrics.LedgerDuration.Observe(time.Since(start).Seconds()) }()

	if err := m.validate(); err != nil {
		metrics.LedgerMutations.WithLabelValues(string(m.Kind), "invalid").Inc()
		return nil, err
	}

	var txn *model.Transaction
	var acct *model.Account
	err := e.Run(ctx, m.AccountID, func(q store.Queries) error {
		var err error
		txn, acct, err = e.ApplyInTx(ctx, q, m)
		return err
	})
	metrics.LedgerMutations.WithLabelValues(string(m.Kind), resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	e.logger.Info("mutation applied",
		"account_id", m.AccountID,
		"transaction_id", txn.ID,
		"kind", txn.Kind,
		"amount", txn.Amount.StringFixed(model.MoneyPlaces),
		"balance", txn.BalanceAfter.StringFixed(model.MoneyPlaces),
		"actor", txn.ActorID,
	)
	e.PublishBalance(acct, txn)
	return txn, nil
}

// PublishBalance emits the balance event for a committed mutation.
func (e *Engine) PublishBalance(acct *model.Account, txn *model.Transaction) {
	e.events.Publish(notify.BalanceEvent(acct, txn))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}
