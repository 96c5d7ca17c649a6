package allowance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/database"
	"github.com/dukerupert/pocketmoney/internal/ledger"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/notify"
	"github.com/dukerupert/pocketmoney/internal/store"
	"github.com/shopspring/decimal"
)

// Wednesday 2026-03-04 12:00 in Denver (MST, UTC-7).
var wednesday = time.Date(2026, 3, 4, 19, 0, 0, 0, time.UTC)

type testEnv struct {
	store     *store.SQLiteStore
	clock     *clock.Fake
	engine    *ledger.Engine
	scheduler *Scheduler
}

func setupScheduler(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{store: store.NewSQLiteStore(db), clock: clock.NewFake(wednesday)}
	env.engine = ledger.NewEngine(env.store, env.clock, notify.Discard, logger, ledger.Options{})
	env.scheduler = NewScheduler(env.engine, env.clock, time.Monday, logger)
	return env
}

func (env *testEnv) openAccount(t *testing.T, name, amount string) *model.Account {
	t.Helper()
	a, err := env.engine.OpenAccount(context.Background(), ledger.NewAccount{
		Name:            name,
		Timezone:        "America/Denver",
		WeeklyAllowance: decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	return a
}

func TestPayWeeklyAllowanceOncePerWeek(t *testing.T) {
	env := setupScheduler(t)
	ctx := context.Background()
	a := env.openAccount(t, "Maya", "5.00")

	txn, err := env.scheduler.PayWeeklyAllowance(ctx, a.ID, "parent-1")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !txn.Amount.Equal(decimal.RequireFromString("5")) || txn.Kind != model.KindCredit {
		t.Errorf("unexpected transaction: %+v", txn)
	}
	if txn.Description != "Weekly Allowance (week of 2026-03-02)" {
		t.Errorf("description = %q", txn.Description)
	}
	if txn.SourceRef == nil || !strings.HasPrefix(*txn.SourceRef, "allowance:") {
		t.Errorf("source_ref = %v", txn.SourceRef)
	}

	env.clock.Advance(2 * 24 * time.Hour)
	_, err = env.scheduler.PayWeeklyAllowance(ctx, a.ID, "parent-1")
	if !errors.Is(err, model.ErrAlreadyPaidThisWeek) {
		t.Fatalf("err = %v, want ErrAlreadyPaidThisWeek", err)
	}

	bal, _ := env.engine.GetBalance(ctx, a.ID)
	if !bal.Equal(decimal.RequireFromString("5")) {
		t.Errorf("balance = %s, want 5", bal)
	}

	env.clock.Advance(5 * 24 * time.Hour)
	if _, err := env.scheduler.PayWeeklyAllowance(ctx, a.ID, "parent-1"); err != nil {
		t.Fatalf("pay next week: %v", err)
	}
	bal, _ = env.engine.GetBalance(ctx, a.ID)
	if !bal.Equal(decimal.RequireFromString("10")) {
		t.Errorf("balance = %s, want 10", bal)
	}

	acct, _ := env.engine.GetAccount(ctx, a.ID)
	if acct.LastAllowanceAnchor == nil || !acct.LastAllowanceAnchor.Equal(env.clock.Now()) {
		t.Errorf("anchor = %v, want %v", acct.LastAllowanceAnchor, env.clock.Now())
	}
}

func TestAnchorRecordsPaymentTime(t *testing.T) {
	env := setupScheduler(t)
	ctx := context.Background()
	a := env.openAccount(t, "Maya", "5.00")

	if _, err := env.scheduler.PayWeeklyAllowance(ctx, a.ID, "parent-1"); err != nil {
		t.Fatalf("pay: %v", err)
	}

	acct, err := env.engine.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.LastAllowanceAnchor == nil || !acct.LastAllowanceAnchor.Equal(wednesday) {
		t.Errorf("anchor = %v, want payment time %v", acct.LastAllowanceAnchor, wednesday)
	}

	// A mid-week anchor still marks the whole week as paid.
	next := NextPaymentDue(acct, wednesday, time.Monday)
	want := time.Date(2026, 3, 9, 0, 0, 0, 0, acct.Location())
	if !next.Equal(want) {
		t.Errorf("next due = %v, want %v", next, want)
	}
}

func TestWeekBoundaryUsesAccountTimezone(t *testing.T) {
	env := setupScheduler(t)
	ctx := context.Background()
	a := env.openAccount(t, "Maya", "5.00")

	// Monday 05:00 UTC is still Sunday evening in Denver.
	env.clock.Set(time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC))
	txn, err := env.scheduler.PayWeeklyAllowance(ctx, a.ID, "parent-1")
	if err != nil {
		t.Fatalf("pay sunday: %v", err)
	}
	if !strings.Contains(txn.Description, "2026-02-23") {
		t.Errorf("description = %q, want week of 2026-02-23", txn.Description)
	}

	// Three hours later it is Monday in Denver: a new allowance week.
	env.clock.Set(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	if _, err := env.scheduler.PayWeeklyAllowance(ctx, a.ID, "parent-1"); err != nil {
		t.Fatalf("pay monday: %v", err)
	}
}

func TestPayWeeklyAllowanceErrors(t *testing.T) {
	env := setupScheduler(t)
	ctx := context.Background()
	zero := env.openAccount(t, "Leo", "0")

	if _, err := env.scheduler.PayWeeklyAllowance(ctx, zero.ID, "parent-1"); !errors.Is(err, model.ErrZeroAllowanceAmount) {
		t.Errorf("zero amount: err = %v", err)
	}
	if _, err := env.scheduler.PayWeeklyAllowance(ctx, 9999, "parent-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing account: err = %v", err)
	}

	txns, _ := env.store.ListTransactions(ctx, zero.ID, store.TransactionFilter{})
	if len(txns) != 0 {
		t.Errorf("expected no transactions, got %d", len(txns))
	}
	acct, _ := env.engine.GetAccount(ctx, zero.ID)
	if acct.LastAllowanceAnchor != nil {
		t.Error("anchor should not move on a failed payment")
	}
}

func TestConcurrentPaymentsPayOnce(t *testing.T) {
	env := setupScheduler(t)
	ctx := context.Background()
	a := env.openAccount(t, "Maya", "5.00")

	var wg sync.WaitGroup
	var mu sync.Mutex
	paid, refused := 0, 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.scheduler.PayWeeklyAllowance(ctx, a.ID, "parent-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				paid++
			case errors.Is(err, model.ErrAlreadyPaidThisWeek):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if paid != 1 || refused != 9 {
		t.Errorf("paid = %d, refused = %d, want 1 and 9", paid, refused)
	}
	bal, _ := env.engine.GetBalance(ctx, a.ID)
	if !bal.Equal(decimal.RequireFromString("5")) {
		t.Errorf("balance = %s, want 5", bal)
	}
}

func TestPayAllDue(t *testing.T) {
	env := setupScheduler(t)
	ctx := context.Background()
	maya := env.openAccount(t, "Maya", "5.00")
	env.openAccount(t, "Leo", "0")

	paid, err := env.scheduler.PayAllDue(ctx)
	if err != nil {
		t.Fatalf("pay all due: %v", err)
	}
	if paid != 1 {
		t.Errorf("paid = %d, want 1", paid)
	}

	paid, err = env.scheduler.PayAllDue(ctx)
	if err != nil {
		t.Fatalf("pay all due again: %v", err)
	}
	if paid != 0 {
		t.Errorf("second run paid = %d, want 0", paid)
	}

	txns, _ := env.store.ListTransactions(ctx, maya.ID, store.TransactionFilter{})
	if len(txns) != 1 || txns[0].ActorID != model.SystemActor {
		t.Errorf("unexpected transactions: %+v", txns)
	}
}

func TestSetWeeklyAmount(t *testing.T) {
	env := setupScheduler(t)
	ctx := context.Background()
	a := env.openAccount(t, "Maya", "5.00")

	acct, err := env.scheduler.SetWeeklyAmount(ctx, a.ID, decimal.RequireFromString("7.50"))
	if err != nil {
		t.Fatalf("set amount: %v", err)
	}
	if !acct.WeeklyAllowance.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("weekly allowance = %s, want 7.50", acct.WeeklyAllowance)
	}
	if _, err := env.scheduler.SetWeeklyAmount(ctx, a.ID, decimal.RequireFromString("-1")); !errors.Is(err, model.ErrInvalidAmount) {
		t.Errorf("negative: err = %v", err)
	}
	if _, err := env.scheduler.SetWeeklyAmount(ctx, 9999, decimal.RequireFromString("1")); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}
}

func TestWeekStart(t *testing.T) {
	denver, _ := time.LoadLocation("America/Denver")
	tests := []struct {
		name  string
		now   time.Time
		start time.Weekday
		want  time.Time
	}{
		{"wednesday monday-start", wednesday, time.Monday, time.Date(2026, 3, 2, 0, 0, 0, 0, denver)},
		{"wednesday sunday-start", wednesday, time.Sunday, time.Date(2026, 3, 1, 0, 0, 0, 0, denver)},
		{"monday itself", time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), time.Monday, time.Date(2026, 3, 2, 0, 0, 0, 0, denver)},
		{"sunday night local", time.Date(2026, 3, 2, 6, 59, 0, 0, time.UTC), time.Monday, time.Date(2026, 2, 23, 0, 0, 0, 0, denver)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeekStart(tt.now, denver, tt.start)
			if !got.Equal(tt.want) {
				t.Errorf("WeekStart = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextPaymentDue(t *testing.T) {
	a := &model.Account{Timezone: "UTC"}
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	thisWeek := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := NextPaymentDue(a, now, time.Monday); !got.Equal(thisWeek) {
		t.Errorf("unpaid: got %v, want %v", got, thisWeek)
	}

	a.LastAllowanceAnchor = &thisWeek
	nextWeek := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if got := NextPaymentDue(a, now, time.Monday); !got.Equal(nextWeek) {
		t.Errorf("paid: got %v, want %v", got, nextWeek)
	}
}

func TestSourceRefStablePerWeek(t *testing.T) {
	week := model.Date{Year: 2026, Month: time.March, Day: 2}
	if sourceRef(1, week) != sourceRef(1, week) {
		t.Error("source ref should be deterministic")
	}
	if sourceRef(1, week) == sourceRef(1, week.AddDays(7)) {
		t.Error("different weeks should differ")
	}
	if sourceRef(1, week) == sourceRef(2, week) {
		t.Error("different accounts should differ")
	}
}
