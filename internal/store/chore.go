package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
)

// --- Template methods ---

func scanTemplate(s scanner) (*model.ChoreTemplate, error) {
	var t model.ChoreTemplate
	var lastGenerated sql.NullString
	var autoApprove, dueAfter sql.NullInt64
	err := s.Scan(
		&t.ID, &t.AccountID, &t.Title, &t.Reward, &t.Recurrence, &t.Active,
		&lastGenerated, &t.RequirePhoto, &autoApprove, &dueAfter,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastGenerated.Valid {
		d, err := model.ParseDate(lastGenerated.String)
		if err != nil {
			return nil, err
		}
		t.LastGeneratedDate = &d
	}
	t.AutoApproveAfter = secondsToDuration(autoApprove)
	t.DueAfter = secondsToDuration(dueAfter)
	return &t, nil
}

const templateCols = `id, account_id, title, reward, recurrence, active, last_generated_date, require_photo, auto_approve_after_seconds, due_after_seconds, created_at, updated_at`

func (q *sqliteQueries) CreateTemplate(ctx context.Context, t *model.ChoreTemplate) error {
	result, err := q.db.ExecContext(ctx,
		`INSERT INTO chore_templates (account_id, title, reward, recurrence, active, require_photo, auto_approve_after_seconds, due_after_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.Title, t.Reward, t.Recurrence, t.Active, t.RequirePhoto,
		durationToSeconds(t.AutoApproveAfter), durationToSeconds(t.DueAfter),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	return nil
}

func (q *sqliteQueries) GetTemplate(ctx context.Context, id int64) (*model.ChoreTemplate, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+templateCols+` FROM chore_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (q *sqliteQueries) GetTemplateForUpdate(ctx context.Context, id int64) (*model.ChoreTemplate, error) {
	return q.GetTemplate(ctx, id)
}

// UpdateTemplate writes the mutable template fields. last_generated_date is
// only advanced through MarkTemplateGenerated.
func (q *sqliteQueries) UpdateTemplate(ctx context.Context, t *model.ChoreTemplate) error {
	return q.execOne(ctx, "update template",
		`UPDATE chore_templates SET title = ?, reward = ?, recurrence = ?, active = ?, require_photo = ?,
		 auto_approve_after_seconds = ?, due_after_seconds = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Reward, t.Recurrence, t.Active, t.RequirePhoto,
		durationToSeconds(t.AutoApproveAfter), durationToSeconds(t.DueAfter), t.UpdatedAt.UTC(), t.ID,
	)
}

func (q *sqliteQueries) ListTemplates(ctx context.Context, accountID int64) ([]model.ChoreTemplate, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+templateCols+` FROM chore_templates WHERE account_id = ? ORDER BY id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func (q *sqliteQueries) ListActiveTemplates(ctx context.Context) ([]model.ChoreTemplate, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+templateCols+` FROM chore_templates WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func (q *sqliteQueries) MarkTemplateGenerated(ctx context.Context, id int64, day model.Date, at time.Time) error {
	return q.execOne(ctx, "mark template generated",
		`UPDATE chore_templates SET last_generated_date = ?, updated_at = ? WHERE id = ?`,
		day.String(), at.UTC(), id)
}

func collectTemplates(rows *sql.Rows) ([]model.ChoreTemplate, error) {
	var templates []model.ChoreTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// --- Instance methods ---

func scanInstance(s scanner) (*model.ChoreInstance, error) {
	var c model.ChoreInstance
	var templateID, resultingTx sql.NullInt64
	var generatedFor, reviewerID, proofRef sql.NullString
	var dueDate, completedAt, reviewedAt sql.NullTime
	err := s.Scan(
		&c.ID, &templateID, &c.AccountID, &c.Title, &c.Reward, &c.RequirePhoto,
		&generatedFor, &dueDate, &c.Status, &completedAt, &reviewedAt,
		&reviewerID, &c.ReviewNotes, &proofRef, &resultingTx,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if templateID.Valid {
		c.TemplateID = &templateID.Int64
	}
	if resultingTx.Valid {
		c.ResultingTransactionID = &resultingTx.Int64
	}
	if generatedFor.Valid {
		d, err := model.ParseDate(generatedFor.String)
		if err != nil {
			return nil, err
		}
		c.GeneratedFor = &d
	}
	if reviewerID.Valid {
		c.ReviewerID = &reviewerID.String
	}
	if proofRef.Valid {
		c.ProofRef = &proofRef.String
	}
	c.DueDate = nullTimePtr(dueDate)
	c.CompletedAt = nullTimePtr(completedAt)
	c.ReviewedAt = nullTimePtr(reviewedAt)
	return &c, nil
}

const instanceCols = `id, template_id, account_id, title, reward, require_photo, generated_for, due_date, status, completed_at, reviewed_at, reviewer_id, review_notes, proof_ref, resulting_transaction_id, created_at, updated_at`

func (q *sqliteQueries) CreateInstance(ctx context.Context, c *model.ChoreInstance) error {
	var generatedFor sql.NullString
	if c.GeneratedFor != nil {
		generatedFor = sql.NullString{String: c.GeneratedFor.String(), Valid: true}
	}
	if c.Status == "" {
		c.Status = model.ChoreAssigned
	}
	result, err := q.db.ExecContext(ctx,
		`INSERT INTO chore_instances (template_id, account_id, title, reward, require_photo, generated_for, due_date, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(c.TemplateID), c.AccountID, c.Title, c.Reward, c.RequirePhoto, generatedFor,
		nullTime(c.DueDate), c.Status, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func (q *sqliteQueries) GetInstance(ctx context.Context, id int64) (*model.ChoreInstance, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM chore_instances WHERE id = ?`, id)
	c, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return c, nil
}

func (q *sqliteQueries) GetInstanceForUpdate(ctx context.Context, id int64) (*model.ChoreInstance, error) {
	return q.GetInstance(ctx, id)
}

// UpdateInstance persists the workflow-owned fields of c.
func (q *sqliteQueries) UpdateInstance(ctx context.Context, c *model.ChoreInstance) error {
	return q.execOne(ctx, "update instance",
		`UPDATE chore_instances SET status = ?, completed_at = ?, reviewed_at = ?, reviewer_id = ?,
		 review_notes = ?, proof_ref = ?, resulting_transaction_id = ?, updated_at = ? WHERE id = ?`,
		c.Status, nullTime(c.CompletedAt), nullTime(c.ReviewedAt), nullString(c.ReviewerID),
		c.ReviewNotes, nullString(c.ProofRef), nullInt64(c.ResultingTransactionID), c.UpdatedAt.UTC(), c.ID,
	)
}

func (q *sqliteQueries) ListInstances(ctx context.Context, f InstanceFilter) ([]model.ChoreInstance, error) {
	var where []string
	var args []any
	if f.AccountID != 0 {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.TemplateID != 0 {
		where = append(where, "template_id = ?")
		args = append(args, f.TemplateID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + instanceCols + ` FROM chore_instances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, ClampLimit(f.Limit), max(f.Offset, 0))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []model.ChoreInstance
	for rows.Next() {
		c, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *c)
	}
	return instances, rows.Err()
}

func (q *sqliteQueries) ListAutoApprovable(ctx context.Context) ([]AutoApproval, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT i.id, i.account_id, i.completed_at, t.auto_approve_after_seconds
		 FROM chore_instances i JOIN chore_templates t ON t.id = i.template_id
		 WHERE i.status = ? AND i.completed_at IS NOT NULL AND t.auto_approve_after_seconds IS NOT NULL
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

func (q *sqliteQueries) ListExpirable(ctx context.Context, now time.Time) ([]ExpiryCandidate, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, account_id FROM chore_instances
		 WHERE status IN (?, ?, ?) AND due_date IS NOT NULL AND due_date < ?
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

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func durationToSeconds(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d / time.Second), Valid: true}
}

func secondsToDuration(v sql.NullInt64) *time.Duration {
	if !v.Valid {
		return nil
	}
	d := time.Duration(v.Int64) * time.Second
	return &d
}
