package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// pgxtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQueries struct {
	db pgxtx
}

// PostgresStore is the Postgres-backed Store. Unlike SQLite it takes real
// row locks, so concurrent writers on different accounts do not serialize.
type PostgresStore struct {
	*pgQueries
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: &pgQueries{db: pool}, pool: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return classifyPostgres(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgQueries{db: tx}); err != nil {
		return classifyPostgres(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPostgres(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// classifyPostgres marks serialization failures, deadlocks and lock
// timeouts as concurrency conflicts.
func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %w", model.ErrConcurrencyConflict, err)
		}
	}
	return err
}

// Money columns are read back as text and written through an explicit text
// cast so no numeric binary codec is involved.
func money(d decimal.Decimal) string {
	return d.StringFixed(model.MoneyPlaces)
}

// --- Accounts ---

const pgAccountCols = `id, name, balance::text, weekly_allowance::text, last_allowance_anchor, timezone, created_at, updated_at`

func scanPgAccount(s scanner) (*model.Account, error) {
	var a model.Account
	err := s.Scan(&a.ID, &a.Name, &a.Balance, &a.WeeklyAllowance, &a.LastAllowanceAnchor, &a.Timezone, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *pgQueries) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.Timezone == "" {
		a.Timezone = "UTC"
	}
	err := q.db.QueryRow(ctx,
		`INSERT INTO accounts (name, balance, weekly_allowance, timezone, created_at, updated_at)
		 VALUES ($1, $2::text::numeric, $3::text::numeric, $4, $5, $6) RETURNING id`,
		a.Name, money(a.Balance), money(a.WeeklyAllowance), a.Timezone, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q *pgQueries) getAccount(ctx context.Context, query string, id int64) (*model.Account, error) {
	a, err := scanPgAccount(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (q *pgQueries) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return q.getAccount(ctx, `SELECT `+pgAccountCols+` FROM accounts WHERE id = $1`, id)
}

func (q *pgQueries) GetAccountForUpdate(ctx context.Context, id int64) (*model.Account, error) {
	return q.getAccount(ctx, `SELECT `+pgAccountCols+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

func (q *pgQueries) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := q.db.Query(ctx, `SELECT `+pgAccountCols+` FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanPgAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (q *pgQueries) UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	return q.execOne(ctx, "update balance",
		`UPDATE accounts SET balance = $1::text::numeric, updated_at = $2 WHERE id = $3`, money(balance), at.UTC(), id)
}

func (q *pgQueries) UpdateAllowanceAnchor(ctx context.Context, id int64, anchor time.Time) error {
	return q.execOne(ctx, "update allowance anchor",
		`UPDATE accounts SET last_allowance_anchor = $1 WHERE id = $2`, anchor.UTC(), id)
}

func (q *pgQueries) UpdateWeeklyAllowance(ctx context.Context, id int64, amount decimal.Decimal, at time.Time) error {
	return q.execOne(ctx, "update weekly allowance",
		`UPDATE accounts SET weekly_allowance = $1::text::numeric, updated_at = $2 WHERE id = $3`, money(amount), at.UTC(), id)
}

func (q *pgQueries) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := q.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return nil
}

// --- Transactions ---

const pgTransactionCols = `id, account_id, amount::text, kind, description, balance_after::text, actor_id, source_ref, created_at`

func scanPgTransaction(s scanner) (*model.Transaction, error) {
	var t model.Transaction
	err := s.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.Description, &t.BalanceAfter, &t.ActorID, &t.SourceRef, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *pgQueries) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO transactions (account_id, amount, kind, description, balance_after, actor_id, source_ref, created_at)
		 VALUES ($1, $2::text::numeric, $3, $4, $5::text::numeric, $6, $7, $8) RETURNING id`,
		t.AccountID, money(t.Amount), t.Kind, t.Description, money(t.BalanceAfter), t.ActorID, t.SourceRef, t.CreatedAt.UTC(),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (q *pgQueries) LatestTransaction(ctx context.Context, accountID int64) (*model.Transaction, error) {
	t, err := scanPgTransaction(q.db.QueryRow(ctx,
		`SELECT `+pgTransactionCols+` FROM transactions WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	return t, nil
}

func (q *pgQueries) ListTransactions(ctx context.Context, accountID int64, f TransactionFilter) ([]model.Transaction, error) {
	var b argBuilder
	where := []string{"account_id = " + b.add(accountID)}
	if f.Kind != "" {
		where = append(where, "kind = "+b.add(f.Kind))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+b.add(f.Since.UTC()))
	}
	if f.Until != nil {
		where = append(where, "created_at < "+b.add(f.Until.UTC()))
	}
	query := `SELECT ` + pgTransactionCols + ` FROM transactions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ` + b.add(ClampLimit(f.Limit)) + ` OFFSET ` + b.add(max(f.Offset, 0))

	rows, err := q.db.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return collectPgTransactions(rows)
}

func (q *pgQueries) ReplayTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+pgTransactionCols+` FROM transactions WHERE account_id = $1
		 ORDER BY created_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("replay transactions: %w", err)
	}
	defer rows.Close()
	return collectPgTransactions(rows)
}

func collectPgTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	var txns []model.Transaction
	for rows.Next() {
		t, err := scanPgTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// argBuilder numbers positional parameters for dynamically built queries.
type argBuilder struct {
	args []any
}

func (b *argBuilder) add(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// --- Chore templates ---

const pgTemplateCols = `id, account_id, title, reward::text, recurrence, active, last_generated_date, require_photo, auto_approve_after_seconds, due_after_seconds, created_at, updated_at`

func scanPgTemplate(s scanner) (*model.ChoreTemplate, error) {
	var t model.ChoreTemplate
	var lastGenerated *string
	var autoApprove, dueAfter *int64
	err := s.Scan(&t.ID, &t.AccountID, &t.Title, &t.Reward, &t.Recurrence, &t.Active,
		&lastGenerated, &t.RequirePhoto, &autoApprove, &dueAfter, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastGenerated != nil {
		d, err := model.ParseDate(*lastGenerated)
		if err != nil {
			return nil, err
		}
		t.LastGeneratedDate = &d
	}
	t.AutoApproveAfter = secondsPtrToDuration(autoApprove)
	t.DueAfter = secondsPtrToDuration(dueAfter)
	return &t, nil
}

func (q *pgQueries) CreateTemplate(ctx context.Context, t *model.ChoreTemplate) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO chore_templates (account_id, title, reward, recurrence, active, require_photo, auto_approve_after_seconds, due_after_seconds, created_at, updated_at)
		 VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		t.AccountID, t.Title, money(t.Reward), t.Recurrence, t.Active, t.RequirePhoto,
		durationPtrToSeconds(t.AutoApproveAfter), durationPtrToSeconds(t.DueAfter), t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (q *pgQueries) getTemplate(ctx context.Context, query string, id int64) (*model.ChoreTemplate, error) {
	t, err := scanPgTemplate(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (q *pgQueries) GetTemplate(ctx context.Context, id int64) (*model.ChoreTemplate, error) {
	return q.getTemplate(ctx, `SELECT `+pgTemplateCols+` FROM chore_templates WHERE id = $1`, id)
}

func (q *pgQueries) GetTemplateForUpdate(ctx context.Context, id int64) (*model.ChoreTemplate, error) {
	return q.getTemplate(ctx, `SELECT `+pgTemplateCols+` FROM chore_templates WHERE id = $1 FOR UPDATE`, id)
}

func (q *pgQueries) UpdateTemplate(ctx context.Context, t *model.ChoreTemplate) error {
	return q.execOne(ctx, "update template",
		`UPDATE chore_templates SET title = $1, reward = $2::text::numeric, recurrence = $3, active = $4, require_photo = $5,
		 auto_approve_after_seconds = $6, due_after_seconds = $7, updated_at = $8 WHERE id = $9`,
		t.Title, money(t.Reward), t.Recurrence, t.Active, t.RequirePhoto,
		durationPtrToSeconds(t.AutoApproveAfter), durationPtrToSeconds(t.DueAfter), t.UpdatedAt.UTC(), t.ID,
	)
}

func (q *pgQueries) ListTemplates(ctx context.Context, accountID int64) ([]model.ChoreTemplate, error) {
	rows, err := q.db.Query(ctx, `SELECT `+pgTemplateCols+` FROM chore_templates WHERE account_id = $1 ORDER BY id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	return collectPgTemplates(rows)
}

func (q *pgQueries) ListActiveTemplates(ctx context.Context) ([]model.ChoreTemplate, error) {
	rows, err := q.db.Query(ctx, `SELECT `+pgTemplateCols+` FROM chore_templates WHERE active ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	defer rows.Close()
	return collectPgTemplates(rows)
}

func (q *pgQueries) MarkTemplateGenerated(ctx context.Context, id int64, day model.Date, at time.Time) error {
	return q.execOne(ctx, "mark template generated",
		`UPDATE chore_templates SET last_generated_date = $1, updated_at = $2 WHERE id = $3`, day.String(), at.UTC(), id)
}

func collectPgTemplates(rows pgx.Rows) ([]model.ChoreTemplate, error) {
	var templates []model.ChoreTemplate
	for rows.Next() {
		t, err := scanPgTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// --- Chore instances ---

const pgInstanceCols = `id, template_id, account_id, title, reward::text, require_photo, generated_for, due_date, status, completed_at, reviewed_at, reviewer_id, review_notes, proof_ref, resulting_transaction_id, created_at, updated_at`

func scanPgInstance(s scanner) (*model.ChoreInstance, error) {
	var c model.ChoreInstance
	var generatedFor *string
	err := s.Scan(&c.ID, &c.TemplateID, &c.AccountID, &c.Title, &c.Reward, &c.RequirePhoto,
		&generatedFor, &c.DueDate, &c.Status, &c.CompletedAt, &c.ReviewedAt,
		&c.ReviewerID, &c.ReviewNotes, &c.ProofRef, &c.ResultingTransactionID,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if generatedFor != nil {
		d, err := model.ParseDate(*generatedFor)
		if err != nil {
			return nil, err
		}
		c.GeneratedFor = &d
	}
	return &c, nil
}

func (q *pgQueries) CreateInstance(ctx context.Context, c *model.ChoreInstance) error {
	var generatedFor *string
	if c.GeneratedFor != nil {
		s := c.GeneratedFor.String()
		generatedFor = &s
	}
	if c.Status == "" {
		c.Status = model.ChoreAssigned
	}
	err := q.db.QueryRow(ctx,
		`INSERT INTO chore_instances (template_id, account_id, title, reward, require_photo, generated_for, due_date, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9, $10) RETURNING id`,
		c.TemplateID, c.AccountID, c.Title, money(c.Reward), c.RequirePhoto, generatedFor,
		utcPtr(c.DueDate), c.Status, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func (q *pgQueries) getInstance(ctx context.Context, query string, id int64) (*model.ChoreInstance, error) {
	c, err := scanPgInstance(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return c, nil
}

func (q *pgQueries) GetInstance(ctx context.Context, id int64) (*model.ChoreInstance, error) {
	return q.getInstance(ctx, `SELECT `+pgInstanceCols+` FROM chore_instances WHERE id = $1`, id)
}

func (q *pgQueries) GetInstanceForUpdate(ctx context.Context, id int64) (*model.ChoreInstance, error) {
	return q.getInstance(ctx, `SELECT `+pgInstanceCols+` FROM chore_instances WHERE id = $1 FOR UPDATE`, id)
}

func (q *pgQueries) UpdateInstance(ctx context.Context, c *model.ChoreInstance) error {
	return q.execOne(ctx, "update instance",
		`UPDATE chore_instances SET status = $1, completed_at = $2, reviewed_at = $3, reviewer_id = $4,
		 review_notes = $5, proof_ref = $6, resulting_transaction_id = $7, updated_at = $8 WHERE id = $9`,
		c.Status, utcPtr(c.CompletedAt), utcPtr(c.ReviewedAt), c.ReviewerID,
		c.ReviewNotes, c.ProofRef, c.ResultingTransactionID, c.UpdatedAt.UTC(), c.ID,
	)
}

func (q *pgQueries) ListInstances(ctx context.Context, f InstanceFilter) ([]model.ChoreInstance, error) {
	var b argBuilder
	var where []string
	if f.AccountID != 0 {
		where = append(where, "account_id = "+b.add(f.AccountID))
	}
	if f.TemplateID != 0 {
		where = append(where, "template_id = "+b.add(f.TemplateID))
	}
	if f.Status != "" {
		where = append(where, "status = "+b.add(f.Status))
	}
	query := `SELECT ` + pgInstanceCols + ` FROM chore_instances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + b.add(ClampLimit(f.Limit)) + ` OFFSET ` + b.add(max(f.Offset, 0))

	rows, err := q.db.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []model.ChoreInstance
	for rows.Next() {
		c, err := scanPgInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *c)
	}
	return instances, rows.Err()
}

func (q *pgQueries) ListAutoApprovable(ctx context.Context) ([]AutoApproval, error) {
	rows, err := q.db.Query(ctx,
		`SELECT i.id, i.account_id, i.completed_at, t.auto_approve_after_seconds
		 FROM chore_instances i JOIN chore_templates t ON t.id = i.template_id
		 WHERE i.status = $1 AND i.completed_at IS NOT NULL AND t.auto_approve_after_seconds IS NOT NULL
		 ORDER BY i.id ASC`, model.ChoreCompleted)
	if err != nil {
		return nil, fmt.Errorf("list auto-approvable: %w", err)
	}
	defer rows.Close()

	var out []AutoApproval
	for rows.Next() {
		var a AutoApproval
		var secs int64
		if err := rows.Scan(&a.InstanceID, &a.AccountID, &a.CompletedAt, &secs); err != nil {
			return nil, fmt.Errorf("scan auto-approvable: %w", err)
		}
		a.After = time.Duration(secs) * time.Second
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *pgQueries) ListExpirable(ctx context.Context, now time.Time) ([]ExpiryCandidate, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, account_id FROM chore_instances
		 WHERE status IN ($1, $2, $3) AND due_date IS NOT NULL AND due_date < $4
		 ORDER BY id ASC`,
		model.ChoreAssigned, model.ChoreInProgress, model.ChoreCompleted, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expirable: %w", err)
	}
	defer rows.Close()

	var out []ExpiryCandidate
	for rows.Next() {
		var c ExpiryCandidate
		if err := rows.Scan(&c.InstanceID, &c.AccountID); err != nil {
			return nil, fmt.Errorf("scan expirable: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Push subscriptions ---

func (q *pgQueries) CreatePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO push_subscriptions (account_id, endpoint, p256dh_key, auth_key, device_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (endpoint) DO UPDATE SET account_id = EXCLUDED.account_id, p256dh_key = EXCLUDED.p256dh_key,
		 auth_key = EXCLUDED.auth_key, device_name = EXCLUDED.device_name
		 RETURNING `+pushCols,
		sub.AccountID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.DeviceName, sub.CreatedAt.UTC(),
	).Scan(&sub.ID, &sub.AccountID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("create push subscription: %w", err)
	}
	return nil
}

func (q *pgQueries) ListPushSubscriptions(ctx context.Context, accountID int64) ([]model.PushSubscription, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+pushCols+` FROM push_subscriptions WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

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

func (q *pgQueries) DeletePushSubscription(ctx context.Context, id int64) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (q *pgQueries) DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func durationPtrToSeconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	s := int64(*d / time.Second)
	return &s
}

func secondsPtrToDuration(v *int64) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v) * time.Second
	return &d
}
