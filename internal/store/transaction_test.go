package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/shopspring/decimal"
)

func TestTransactionInsertAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	first := insertTestTransaction(t, s, a.ID, model.KindCredit, "50.00", "50.00", testNow)
	second := insertTestTransaction(t, s, a.ID, model.KindDebit, "25.00", "25.00", testNow.Add(time.Minute))
	third := insertTestTransaction(t, s, a.ID, model.KindCredit, "30.00", "55.00", testNow.Add(2*time.Minute))

	if first.ID == 0 || second.ID == 0 || third.ID == 0 {
		t.Fatal("expected ids to be assigned")
	}

	txns, err := s.ListTransactions(ctx, a.ID, TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txns))
	}
	if txns[0].ID != third.ID || txns[2].ID != first.ID {
		t.Errorf("expected newest first, got ids %d,%d,%d", txns[0].ID, txns[1].ID, txns[2].ID)
	}
	if !txns[0].BalanceAfter.Equal(decimal.RequireFromString("55")) {
		t.Errorf("balance_after = %s, want 55", txns[0].BalanceAfter)
	}
	if !txns[0].CreatedAt.Equal(testNow.Add(2 * time.Minute)) {
		t.Errorf("created_at = %v", txns[0].CreatedAt)
	}

	debits, err := s.ListTransactions(ctx, a.ID, TransactionFilter{Kind: model.KindDebit})
	if err != nil {
		t.Fatalf("list debits: %v", err)
	}
	if len(debits) != 1 || debits[0].ID != second.ID {
		t.Errorf("expected only the debit, got %+v", debits)
	}

	since := testNow.Add(30 * time.Second)
	recent, _ := s.ListTransactions(ctx, a.ID, TransactionFilter{Since: &since})
	if len(recent) != 2 {
		t.Errorf("expected 2 since filter, got %d", len(recent))
	}

	page, _ := s.ListTransactions(ctx, a.ID, TransactionFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != second.ID {
		t.Errorf("expected second transaction on page 2, got %+v", page)
	}

	replay, err := s.ReplayTransactions(ctx, a.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replay) != 3 || replay[0].ID != first.ID || replay[2].ID != third.ID {
		t.Errorf("expected replay in commit order")
	}

	latest, err := s.LatestTransaction(ctx, a.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != third.ID {
		t.Errorf("latest id = %d, want %d", latest.ID, third.ID)
	}
}

func TestLatestTransactionBreaksTiesByID(t *testing.T) {
	s := setupTestStore(t)
	a := createTestAccount(t, s, "Maya")

	insertTestTransaction(t, s, a.ID, model.KindCredit, "1.00", "1.00", testNow)
	second := insertTestTransaction(t, s, a.ID, model.KindCredit, "1.00", "2.00", testNow)

	latest, err := s.LatestTransaction(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest id = %d, want %d", latest.ID, second.ID)
	}
}

func TestLatestTransactionEmpty(t *testing.T) {
	s := setupTestStore(t)
	a := createTestAccount(t, s, "Maya")

	latest, err := s.LatestTransaction(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Error("expected nil latest transaction")
	}
}

func TestTransactionSourceRef(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	ref := "chore:42"
	txn := &model.Transaction{
		AccountID:    a.ID,
		Amount:       decimal.RequireFromString("15.00"),
		Kind:         model.KindCredit,
		Description:  "Chore completed: Dishes",
		BalanceAfter: decimal.RequireFromString("15.00"),
		ActorID:      "parent-1",
		SourceRef:    &ref,
		CreatedAt:    testNow,
	}
	if err := s.InsertTransaction(ctx, txn); err != nil {
		t.Fatalf("insert: %v", err)
	}

	latest, _ := s.LatestTransaction(ctx, a.ID)
	if latest.SourceRef == nil || *latest.SourceRef != ref {
		t.Errorf("source_ref = %v, want %q", latest.SourceRef, ref)
	}
	if latest.Description != "Chore completed: Dishes" {
		t.Errorf("description = %q", latest.Description)
	}
}

func TestTransactionsAreImmutable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")
	txn := insertTestTransaction(t, s, a.ID, model.KindCredit, "10.00", "10.00", testNow)

	if _, err := s.DB().ExecContext(ctx, `UPDATE transactions SET amount = '99' WHERE id = ?`, txn.ID); err == nil {
		t.Error("expected update to be rejected")
	}
	if _, err := s.DB().ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, txn.ID); err == nil {
		t.Error("expected delete to be rejected")
	}

	got, _ := s.LatestTransaction(ctx, a.ID)
	if !got.Amount.Equal(decimal.RequireFromString("10")) {
		t.Errorf("amount = %s, want 10", got.Amount)
	}
}

func TestTransactionRejectsUnknownAccount(t *testing.T) {
	s := setupTestStore(t)
	txn := &model.Transaction{
		AccountID:    9999,
		Amount:       decimal.RequireFromString("1.00"),
		Kind:         model.KindCredit,
		Description:  "orphan",
		BalanceAfter: decimal.RequireFromString("1.00"),
		ActorID:      "parent-1",
		CreatedAt:    testNow,
	}
	if err := s.InsertTransaction(context.Background(), txn); err == nil {
		t.Error("expected foreign key violation")
	}
}
