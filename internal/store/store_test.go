package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/pocketmoney/internal/database"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

func createTestAccount(t *testing.T, s *SQLiteStore, name string) *model.Account {
	t.Helper()
	a := &model.Account{
		Name:            name,
		Balance:         decimal.Zero,
		WeeklyAllowance: decimal.RequireFromString("5.00"),
		Timezone:        "America/Denver",
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func insertTestTransaction(t *testing.T, q Queries, accountID int64, kind model.Kind, amount, after string, at time.Time) *model.Transaction {
	t.Helper()
	txn := &model.Transaction{
		AccountID:    accountID,
		Amount:       decimal.RequireFromString(amount),
		Kind:         kind,
		Description:  "test",
		BalanceAfter: decimal.RequireFromString(after),
		ActorID:      "parent-1",
		CreatedAt:    at,
	}
	if err := q.InsertTransaction(context.Background(), txn); err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	return txn
}

func TestAccountCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := createTestAccount(t, s, "Maya")
	if a.ID == 0 {
		t.Fatal("expected non-zero ID")
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Name != "Maya" {
		t.Errorf("name = %q, want %q", got.Name, "Maya")
	}
	if !got.WeeklyAllowance.Equal(decimal.RequireFromString("5")) {
		t.Errorf("weekly allowance = %s, want 5", got.WeeklyAllowance)
	}
	if got.Timezone != "America/Denver" {
		t.Errorf("timezone = %q", got.Timezone)
	}
	if got.LastAllowanceAnchor != nil {
		t.Error("expected nil allowance anchor")
	}

	if err := s.UpdateAccountBalance(ctx, a.ID, decimal.RequireFromString("12.34"), testNow); err != nil {
		t.Fatalf("update balance: %v", err)
	}
	anchor := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	if err := s.UpdateAllowanceAnchor(ctx, a.ID, anchor); err != nil {
		t.Fatalf("update anchor: %v", err)
	}
	if err := s.UpdateWeeklyAllowance(ctx, a.ID, decimal.RequireFromString("7.50"), testNow); err != nil {
		t.Fatalf("update weekly allowance: %v", err)
	}

	got, _ = s.GetAccount(ctx, a.ID)
	if !got.Balance.Equal(decimal.RequireFromString("12.34")) {
		t.Errorf("balance = %s, want 12.34", got.Balance)
	}
	if got.LastAllowanceAnchor == nil || !got.LastAllowanceAnchor.Equal(anchor) {
		t.Errorf("anchor = %v, want %v", got.LastAllowanceAnchor, anchor)
	}
	if !got.WeeklyAllowance.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("weekly allowance = %s, want 7.50", got.WeeklyAllowance)
	}

	missing, err := s.GetAccount(ctx, 9999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing account")
	}

	err = s.UpdateAccountBalance(ctx, 9999, decimal.Zero, testNow)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("update missing: err = %v, want ErrNotFound", err)
	}

	createTestAccount(t, s, "Leo")
	all, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 accounts, got %d", len(all))
	}
}

func TestCreateAccountDefaultsTimezone(t *testing.T) {
	s := setupTestStore(t)
	a := &model.Account{Name: "Sam", CreatedAt: testNow, UpdatedAt: testNow}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	got, _ := s.GetAccount(context.Background(), a.ID)
	if got.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", got.Timezone)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q Queries) error {
		insertTestTransaction(t, q, a.ID, model.KindCredit, "10.00", "10.00", testNow)
		if err := q.UpdateAccountBalance(ctx, a.ID, decimal.RequireFromString("10"), testNow); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	got, _ := s.GetAccount(ctx, a.ID)
	if !got.Balance.IsZero() {
		t.Errorf("balance = %s, want 0 after rollback", got.Balance)
	}
	txns, err := s.ReplayTransactions(ctx, a.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("expected no transactions after rollback, got %d", len(txns))
	}
}

func TestWithTxCommits(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	err := s.WithTx(ctx, func(q Queries) error {
		insertTestTransaction(t, q, a.ID, model.KindCredit, "10.00", "10.00", testNow)
		return q.UpdateAccountBalance(ctx, a.ID, decimal.RequireFromString("10"), testNow)
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}
	got, _ := s.GetAccount(ctx, a.ID)
	if !got.Balance.Equal(decimal.RequireFromString("10")) {
		t.Errorf("balance = %s, want 10", got.Balance)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-3, DefaultListLimit},
		{10, 10},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
