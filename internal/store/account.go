package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/shopspring/decimal"
)

func scanAccount(s scanner) (*model.Account, error) {
	var a model.Account
	var anchor sql.NullTime
	err := s.Scan(
		&a.ID, &a.Name, &a.Balance, &a.WeeklyAllowance, &anchor,
		&a.Timezone, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if anchor.Valid {
		a.LastAllowanceAnchor = &anchor.Time
	}
	return &a, nil
}

const accountCols = `id, name, balance, weekly_allowance, last_allowance_anchor, timezone, created_at, updated_at`

func (q *sqliteQueries) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.Timezone == "" {
		a.Timezone = "UTC"
	}
	result, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (name, balance, weekly_allowance, timezone, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Name, a.Balance, a.WeeklyAllowance, a.Timezone, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	return nil
}

func (q *sqliteQueries) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountForUpdate is a plain read: the IMMEDIATE transaction already
// holds the database write lock.
func (q *sqliteQueries) GetAccountForUpdate(ctx context.Context, id int64) (*model.Account, error) {
	return q.GetAccount(ctx, id)
}

func (q *sqliteQueries) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (q *sqliteQueries) UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	return q.execOne(ctx, "update balance",
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`, balance, at.UTC(), id)
}

func (q *sqliteQueries) UpdateAllowanceAnchor(ctx context.Context, id int64, anchor time.Time) error {
	return q.execOne(ctx, "update allowance anchor",
		`UPDATE accounts SET last_allowance_anchor = ? WHERE id = ?`, anchor.UTC(), id)
}

func (q *sqliteQueries) UpdateWeeklyAllowance(ctx context.Context, id int64, amount decimal.Decimal, at time.Time) error {
	return q.execOne(ctx, "update weekly allowance",
		`UPDATE accounts SET weekly_allowance = ?, updated_at = ? WHERE id = ?`, amount, at.UTC(), id)
}

// execOne runs an UPDATE that must touch exactly one row.
func (q *sqliteQueries) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return nil
}
