package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/ledger"
	"github.com/dukerupert/pocketmoney/internal/metrics"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// sourceNamespace seeds the name-based UUIDs used as allowance source refs.
var sourceNamespace = uuid.MustParse("6f1c2a4e-8b3d-4f5a-9c7e-2d1b0a9e8f47")

// Scheduler pays each account's weekly allowance at most once per
// allowance week.
type Scheduler struct {
	engine    *ledger.Engine
	clock     clock.Clock
	weekStart time.Weekday
	logger    *slog.Logger
}

// NewScheduler returns a Scheduler whose weeks begin on weekStart in each
// account's own timezone.
func NewScheduler(engine *ledger.Engine, c clock.Clock, weekStart time.Weekday, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:    engine,
		clock:     c,
		weekStart: weekStart,
		logger:    logger.With("component", "allowance"),
	}
}

// WeekStart returns local midnight of the most recent startDay on or before
// now, in loc.
func WeekStart(now time.Time, loc *time.Location, startDay time.Weekday) time.Time {
	today := model.DateOf(now, loc)
	offset := (int(today.Weekday()) - int(startDay) + 7) % 7
	return today.AddDays(-offset).Midnight(loc)
}

// NextPaymentDue returns when the account next becomes payable. If this
// week's allowance is unpaid, that is the start of the current week.
func NextPaymentDue(a *model.Account, now time.Time, startDay time.Weekday) time.Time {
	loc := a.Location()
	ws := WeekStart(now, loc, startDay)
	if !paidSince(a, ws) {
		return ws
	}
	return model.DateOf(ws, loc).AddDays(7).Midnight(loc)
}

// NextDue is NextPaymentDue at the scheduler's clock and week start.
func (s *Scheduler) NextDue(a *model.Account) time.Time {
	return NextPaymentDue(a, s.clock.Now(), s.weekStart)
}

// paidSince reports whether the anchor is at or after weekStart. An anchor
// in a later week only happens when the clock stepped back; it counts as paid.
func paidSince(a *model.Account, weekStart time.Time) bool {
	return a.LastAllowanceAnchor != nil && !a.LastAllowanceAnchor.Before(weekStart)
}

func sourceRef(accountID int64, week model.Date) string {
	id := uuid.NewSHA1(sourceNamespace, []byte(fmt.Sprintf("%d:%s", accountID, week)))
	return "allowance:" + id.String()
}

// PayWeeklyAllowance credits the account's weekly amount for the current
// week. The anchor check, the credit and the anchor update commit together.
func (s *Scheduler) PayWeeklyAllowance(ctx context.Context, accountID int64, actorID string) (*model.Transaction, error) {
	var txn *model.Transaction
	var acct *model.Account
	err := s.engine.Run(ctx, accountID, func(q store.Queries) error {
		a, err := q.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("account %d: %w", accountID, model.ErrNotFound)
		}
		if !a.WeeklyAllowance.IsPositive() {
			return fmt.Errorf("account %d: %w", accountID, model.ErrZeroAllowanceAmount)
		}

		loc := a.Location()
		now := s.clock.Now()
		ws := WeekStart(now, loc, s.weekStart)
		if paidSince(a, ws) {
			return fmt.Errorf("account %d: %w", accountID, model.ErrAlreadyPaidThisWeek)
		}

		week := model.DateOf(ws, loc)
		ref := sourceRef(accountID, week)
		txn, acct, err = s.engine.ApplyInTx(ctx, q, ledger.Mutation{
			AccountID:   accountID,
			Amount:      a.WeeklyAllowance,
			Kind:        model.KindCredit,
			Description: fmt.Sprintf("Weekly Allowance (week of %s)", week),
			ActorID:     actorID,
			SourceRef:   &ref,
		})
		if err != nil {
			return err
		}
		if err := q.UpdateAllowanceAnchor(ctx, accountID, now); err != nil {
			return err
		}
		acct.LastAllowanceAnchor = &now
		return nil
	})
	metrics.AllowancePayments.WithLabelValues(paymentResult(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.logger.Info("allowance paid",
		"account_id", accountID,
		"transaction_id", txn.ID,
		"amount", txn.Amount.StringFixed(model.MoneyPlaces),
		"actor", actorID,
	)
	s.engine.PublishBalance(acct, txn)
	return txn, nil
}

// SetWeeklyAmount changes the amount future payments credit.
func (s *Scheduler) SetWeeklyAmount(ctx context.Context, accountID int64, amount decimal.Decimal) (*model.Account, error) {
	if err := model.ValidateNonNegative(amount); err != nil {
		return nil, err
	}
	var acct *model.Account
	err := s.engine.Run(ctx, accountID, func(q store.Queries) error {
		if err := q.UpdateWeeklyAllowance(ctx, accountID, amount, s.clock.Now().UTC()); err != nil {
			return err
		}
		var err error
		acct, err = q.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// PayAllDue pays every account that has a positive amount and has not been
// paid this week, as the system actor. It returns the number paid.
func (s *Scheduler) PayAllDue(ctx context.Context) (int, error) {
	accounts, err := s.engine.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}

	now := s.clock.Now()
	paid := 0
	var errs []error
	for i := range accounts {
		a := &accounts[i]
		if !a.WeeklyAllowance.IsPositive() || paidSince(a, WeekStart(now, a.Location(), s.weekStart)) {
			continue
		}
		_, err := s.PayWeeklyAllowance(ctx, a.ID, model.SystemActor)
		switch {
		case err == nil:
			paid++
		case errors.Is(err, model.ErrAlreadyPaidThisWeek), errors.Is(err, model.ErrZeroAllowanceAmount):
		default:
			s.logger.Error("allowance payment failed", "account_id", a.ID, "error", err)
			errs = append(errs, fmt.Errorf("account %d: %w", a.ID, err))
		}
	}
	return paid, errors.Join(errs...)
}

func paymentResult(err error) string {
	switch {
	case err == nil:
		return "paid"
	case errors.Is(err, model.ErrAlreadyPaidThisWeek):
		return "already_paid"
	case errors.Is(err, model.ErrZeroAllowanceAmount):
		return "zero_amount"
	default:
		return "error"
	}
}
