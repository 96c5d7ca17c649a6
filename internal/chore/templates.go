package chore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/recurrence"
	"github.com/dukerupert/pocketmoney/internal/store"
	"github.com/shopspring/decimal"
)

type NewTemplate struct {
	AccountID        int64
	Title            string
	Reward           decimal.Decimal
	Recurrence       string
	RequirePhoto     bool
	AutoApproveAfter *time.Duration
	DueAfter         *time.Duration
}

// TemplateUpdate changes the fields that are set. A zero duration clears
// AutoApproveAfter or DueAfter.
type TemplateUpdate struct {
	Title            *string
	Reward           *decimal.Decimal
	Active           *bool
	RequirePhoto     *bool
	AutoApproveAfter *time.Duration
	DueAfter         *time.Duration
}

func validateDuration(name string, d *time.Duration) error {
	if d != nil && *d < 0 {
		return fmt.Errorf("%w: %s must not be negative", model.ErrInvalidInput, name)
	}
	return nil
}

// nonZero maps a zero duration to nil.
func nonZero(d *time.Duration) *time.Duration {
	if d == nil || *d == 0 {
		return nil
	}
	v := *d
	return &v
}

func (s *Service) CreateTemplate(ctx context.Context, n NewTemplate) (*model.ChoreTemplate, error) {
	title := strings.TrimSpace(n.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	}
	if err := model.ValidateAmount(n.Reward); err != nil {
		return nil, err
	}
	rule, err := recurrence.Parse(n.Recurrence)
	if err != nil {
		return nil, err
	}
	if err := validateDuration("auto_approve_after", n.AutoApproveAfter); err != nil {
		return nil, err
	}
	if err := validateDuration("due_after", n.DueAfter); err != nil {
		return nil, err
	}
	if _, err := s.engine.GetAccount(ctx, n.AccountID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	t := &model.ChoreTemplate{
		AccountID:        n.AccountID,
		Title:            title,
		Reward:           n.Reward,
		Recurrence:       rule.String(),
		Active:           true,
		RequirePhoto:     n.RequirePhoto,
		AutoApproveAfter: nonZero(n.AutoApproveAfter),
		DueAfter:         nonZero(n.DueAfter),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("template created", "template_id", t.ID, "account_id", t.AccountID, "recurrence", t.Recurrence)
	return t, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, id int64, u TemplateUpdate) (*model.ChoreTemplate, error) {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	}
	if u.Reward != nil {
		if err := model.ValidateAmount(*u.Reward); err != nil {
			return nil, err
		}
	}
	if err := validateDuration("auto_approve_after", u.AutoApproveAfter); err != nil {
		return nil, err
	}
	if err := validateDuration("due_after", u.DueAfter); err != nil {
		return nil, err
	}

	var updated *model.ChoreTemplate
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		t, err := q.GetTemplateForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("template %d: %w", id, model.ErrNotFound)
		}
		if u.Title != nil {
			t.Title = strings.TrimSpace(*u.Title)
		}
		if u.Reward != nil {
			t.Reward = *u.Reward
		}
		if u.Active != nil {
			t.Active = *u.Active
		}
		if u.RequirePhoto != nil {
			t.RequirePhoto = *u.RequirePhoto
		}
		if u.AutoApproveAfter != nil {
			t.AutoApproveAfter = nonZero(u.AutoApproveAfter)
		}
		if u.DueAfter != nil {
			t.DueAfter = nonZero(u.DueAfter)
		}
		t.UpdatedAt = s.clock.Now().UTC()
		if err := q.UpdateTemplate(ctx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("template updated", "template_id", updated.ID, "active", updated.Active)
	return updated, nil
}

func (s *Service) GetTemplate(ctx context.Context, id int64) (*model.ChoreTemplate, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("template %d: %w", id, model.ErrNotFound)
	}
	return t, nil
}

func (s *Service) ListTemplates(ctx context.Context, accountID int64) ([]model.ChoreTemplate, error) {
	if _, err := s.engine.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTemplates(ctx, accountID)
}

// Upcoming lists the local dates in the next days days, today included, on
// which the template will generate an instance.
func (s *Service) Upcoming(ctx context.Context, templateID int64, days int) ([]model.Date, error) {
	if days <= 0 || days > 366 {
		return nil, fmt.Errorf("%w: days must be 1-366", model.ErrInvalidInput)
	}
	t, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, nil
	}
	rule, err := recurrence.Parse(t.Recurrence)
	if err != nil {
		return nil, err
	}
	acct, err := s.engine.GetAccount(ctx, t.AccountID)
	if err != nil {
		return nil, err
	}

	today := model.DateOf(s.clock.Now(), acct.Location())
	to := today.AddDays(days - 1)
	if t.LastGeneratedDate != nil {
		if rule.Kind == recurrence.OneTime {
			return nil, nil
		}
		if !t.LastGeneratedDate.Before(today) {
			today = t.LastGeneratedDate.AddDays(1)
		}
	}
	return recurrence.Occurrences(rule, today, to), nil
}
