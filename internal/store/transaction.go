package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/pocketmoney/internal/model"
)

func scanTransaction(s scanner) (*model.Transaction, error) {
	var t model.Transaction
	var sourceRef sql.NullString
	err := s.Scan(
		&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.Description,
		&t.BalanceAfter, &t.ActorID, &sourceRef, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sourceRef.Valid {
		t.SourceRef = &sourceRef.String
	}
	return &t, nil
}

const transactionCols = `id, account_id, amount, kind, description, balance_after, actor_id, source_ref, created_at`

// InsertTransaction appends t and sets its ID. There is no update or delete
// counterpart; triggers reject both at the database level.
func (q *sqliteQueries) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	result, err := q.db.ExecContext(ctx,
		`INSERT INTO transactions (account_id, amount, kind, description, balance_after, actor_id, source_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.Amount, t.Kind, t.Description, t.BalanceAfter, t.ActorID, nullString(t.SourceRef), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	return nil
}

func (q *sqliteQueries) LatestTransaction(ctx context.Context, accountID int64) (*model.Transaction, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, accountID)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns newest first, ties broken by id.
func (q *sqliteQueries) ListTransactions(ctx context.Context, accountID int64, f TransactionFilter) ([]model.Transaction, error) {
	where := []string{"account_id = ?"}
	args := []any{accountID}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, f.Until.UTC())
	}
	args = append(args, ClampLimit(f.Limit), max(f.Offset, 0))

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ReplayTransactions returns every transaction for the account in commit order.
func (q *sqliteQueries) ReplayTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE account_id = ?
		 ORDER BY created_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("replay transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var txns []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
