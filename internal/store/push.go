package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/pocketmoney/internal/model"
)

const pushCols = `id, account_id, endpoint, p256dh_key, auth_key, device_name, created_at`

func scanSubscription(s scanner) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.Scan(&sub.ID, &sub.AccountID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreatePushSubscription upserts by endpoint so a browser re-subscribing
// refreshes its keys instead of failing.
func (q *sqliteQueries) CreatePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (account_id, endpoint, p256dh_key, auth_key, device_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET account_id = excluded.account_id, p256dh_key = excluded.p256dh_key,
		 auth_key = excluded.auth_key, device_name = excluded.device_name`,
		sub.AccountID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.DeviceName, sub.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create push subscription: %w", err)
	}

	// LastInsertId is unreliable on the update path; re-read by endpoint.
	row := q.db.QueryRowContext(ctx, `SELECT `+pushCols+` FROM push_subscriptions WHERE endpoint = ?`, sub.Endpoint)
	stored, err := scanSubscription(row)
	if err != nil {
		return fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	*sub = *stored
	return nil
}

func (q *sqliteQueries) ListPushSubscriptions(ctx context.Context, accountID int64) ([]model.PushSubscription, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+pushCols+` FROM push_subscriptions WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (q *sqliteQueries) DeletePushSubscription(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (q *sqliteQueries) DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
