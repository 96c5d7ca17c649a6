package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/shopspring/decimal"
)

func createTestTemplate(t *testing.T, s *SQLiteStore, accountID int64, rule string) *model.ChoreTemplate {
	t.Helper()
	tmpl := &model.ChoreTemplate{
		AccountID:  accountID,
		Title:      "Dishes",
		Reward:     decimal.RequireFromString("2.50"),
		Recurrence: rule,
		Active:     true,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	if err := s.CreateTemplate(context.Background(), tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tmpl
}

func TestTemplateCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	autoApprove := 24 * time.Hour
	tmpl := &model.ChoreTemplate{
		AccountID:        a.ID,
		Title:            "Feed the cat",
		Reward:           decimal.RequireFromString("1.25"),
		Recurrence:       "FREQ=DAILY",
		Active:           true,
		RequirePhoto:     true,
		AutoApproveAfter: &autoApprove,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
	if err := s.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}

	got, err := s.GetTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if got.Title != "Feed the cat" || !got.RequirePhoto || !got.Active {
		t.Errorf("unexpected template: %+v", got)
	}
	if got.AutoApproveAfter == nil || *got.AutoApproveAfter != autoApprove {
		t.Errorf("auto_approve_after = %v, want %v", got.AutoApproveAfter, autoApprove)
	}
	if got.DueAfter != nil {
		t.Errorf("due_after = %v, want nil", got.DueAfter)
	}
	if got.LastGeneratedDate != nil {
		t.Error("expected nil last_generated_date")
	}

	got.Title = "Feed the cats"
	got.Active = false
	got.UpdatedAt = testNow.Add(time.Hour)
	if err := s.UpdateTemplate(ctx, got); err != nil {
		t.Fatalf("update template: %v", err)
	}

	updated, _ := s.GetTemplate(ctx, tmpl.ID)
	if updated.Title != "Feed the cats" || updated.Active {
		t.Errorf("update not persisted: %+v", updated)
	}

	active, err := s.ListActiveTemplates(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active templates, got %d", len(active))
	}

	all, err := s.ListTemplates(ctx, a.ID)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 template, got %d", len(all))
	}

	missing, _ := s.GetTemplate(ctx, 9999)
	if missing != nil {
		t.Error("expected nil for missing template")
	}
}

func TestMarkTemplateGenerated(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")
	tmpl := createTestTemplate(t, s, a.ID, "FREQ=DAILY")

	day := model.Date{Year: 2026, Month: time.March, Day: 2}
	if err := s.MarkTemplateGenerated(ctx, tmpl.ID, day, testNow); err != nil {
		t.Fatalf("mark generated: %v", err)
	}

	got, _ := s.GetTemplate(ctx, tmpl.ID)
	if got.LastGeneratedDate == nil || !got.LastGeneratedDate.Equal(day) {
		t.Errorf("last_generated_date = %v, want %v", got.LastGeneratedDate, day)
	}
}

func TestInstanceLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")
	tmpl := createTestTemplate(t, s, a.ID, "FREQ=DAILY")

	day := model.Date{Year: 2026, Month: time.March, Day: 2}
	due := testNow.Add(6 * time.Hour)
	inst := &model.ChoreInstance{
		TemplateID:   &tmpl.ID,
		AccountID:    a.ID,
		Title:        tmpl.Title,
		Reward:       tmpl.Reward,
		GeneratedFor: &day,
		DueDate:      &due,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if inst.Status != model.ChoreAssigned {
		t.Errorf("status = %q, want assigned", inst.Status)
	}

	got, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if got.GeneratedFor == nil || !got.GeneratedFor.Equal(day) {
		t.Errorf("generated_for = %v", got.GeneratedFor)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due_date = %v, want %v", got.DueDate, due)
	}

	// Approval and its transaction land together.
	err = s.WithTx(ctx, func(q Queries) error {
		txn := insertTestTransaction(t, q, a.ID, model.KindCredit, "2.50", "2.50", testNow)
		reviewer := "parent-1"
		reviewedAt := testNow.Add(time.Hour)
		got.Status = model.ChoreApproved
		got.ReviewerID = &reviewer
		got.ReviewedAt = &reviewedAt
		got.ResultingTransactionID = &txn.ID
		got.UpdatedAt = reviewedAt
		return q.UpdateInstance(ctx, got)
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	approved, _ := s.GetInstance(ctx, inst.ID)
	if approved.Status != model.ChoreApproved || approved.ResultingTransactionID == nil {
		t.Errorf("unexpected approved instance: %+v", approved)
	}
	if approved.ReviewerID == nil || *approved.ReviewerID != "parent-1" {
		t.Errorf("reviewer = %v", approved.ReviewerID)
	}
}

func TestInstanceApprovedRequiresTransaction(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	inst := &model.ChoreInstance{
		AccountID: a.ID,
		Title:     "One-off",
		Reward:    decimal.RequireFromString("3.00"),
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}

	inst.Status = model.ChoreApproved
	if err := s.UpdateInstance(ctx, inst); err == nil {
		t.Error("expected check constraint to reject approved without transaction")
	}
}

func TestInstanceUniquePerTemplateDay(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")
	tmpl := createTestTemplate(t, s, a.ID, "FREQ=DAILY")

	day := model.Date{Year: 2026, Month: time.March, Day: 2}
	newInst := func() *model.ChoreInstance {
		return &model.ChoreInstance{
			TemplateID: &tmpl.ID, AccountID: a.ID, Title: tmpl.Title, Reward: tmpl.Reward,
			GeneratedFor: &day, CreatedAt: testNow, UpdatedAt: testNow,
		}
	}
	if err := s.CreateInstance(ctx, newInst()); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := s.CreateInstance(ctx, newInst()); err == nil {
		t.Error("expected duplicate generation to be rejected")
	}
}

func TestListInstancesFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	maya := createTestAccount(t, s, "Maya")
	leo := createTestAccount(t, s, "Leo")

	for i, acct := range []int64{maya.ID, maya.ID, leo.ID} {
		inst := &model.ChoreInstance{
			AccountID: acct, Title: "Chore", Reward: decimal.RequireFromString("1.00"),
			CreatedAt: testNow.Add(time.Duration(i) * time.Minute), UpdatedAt: testNow,
		}
		if err := s.CreateInstance(ctx, inst); err != nil {
			t.Fatalf("create instance: %v", err)
		}
	}

	mine, err := s.ListInstances(ctx, InstanceFilter{AccountID: maya.ID})
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 instances for maya, got %d", len(mine))
	}

	all, _ := s.ListInstances(ctx, InstanceFilter{Status: model.ChoreAssigned})
	if len(all) != 3 {
		t.Errorf("expected 3 assigned, got %d", len(all))
	}

	none, _ := s.ListInstances(ctx, InstanceFilter{Status: model.ChoreCompleted})
	if len(none) != 0 {
		t.Errorf("expected 0 completed, got %d", len(none))
	}
}

func TestListAutoApprovableAndExpirable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	after := 2 * time.Hour
	tmpl := createTestTemplate(t, s, a.ID, "FREQ=DAILY")
	tmpl.AutoApproveAfter = &after
	if err := s.UpdateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("update template: %v", err)
	}

	due := testNow.Add(-time.Hour)
	completedAt := testNow.Add(-3 * time.Hour)
	completed := &model.ChoreInstance{
		TemplateID: &tmpl.ID, AccountID: a.ID, Title: "Dishes", Reward: tmpl.Reward,
		DueDate: &due, CreatedAt: testNow, UpdatedAt: testNow,
	}
	if err := s.CreateInstance(ctx, completed); err != nil {
		t.Fatalf("create instance: %v", err)
	}
	completed.Status = model.ChoreCompleted
	completed.CompletedAt = &completedAt
	if err := s.UpdateInstance(ctx, completed); err != nil {
		t.Fatalf("update instance: %v", err)
	}

	future := testNow.Add(time.Hour)
	pending := &model.ChoreInstance{
		AccountID: a.ID, Title: "Homework", Reward: decimal.RequireFromString("1.00"),
		DueDate: &future, CreatedAt: testNow, UpdatedAt: testNow,
	}
	if err := s.CreateInstance(ctx, pending); err != nil {
		t.Fatalf("create instance: %v", err)
	}

	auto, err := s.ListAutoApprovable(ctx)
	if err != nil {
		t.Fatalf("list auto-approvable: %v", err)
	}
	if len(auto) != 1 || auto[0].InstanceID != completed.ID {
		t.Fatalf("unexpected auto-approvable: %+v", auto)
	}
	if auto[0].After != after || !auto[0].CompletedAt.Equal(completedAt) {
		t.Errorf("auto-approval = %+v", auto[0])
	}

	exp, err := s.ListExpirable(ctx, testNow)
	if err != nil {
		t.Fatalf("list expirable: %v", err)
	}
	if len(exp) != 1 || exp[0].InstanceID != completed.ID {
		t.Errorf("unexpected expirable: %+v", exp)
	}

	exp, _ = s.ListExpirable(ctx, testNow.Add(2*time.Hour))
	if len(exp) != 2 {
		t.Errorf("expected 2 expirable later on, got %d", len(exp))
	}
}
