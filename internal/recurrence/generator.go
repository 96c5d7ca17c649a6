package recurrence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/pocketmoney/internal/metrics"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/notify"
	"github.com/dukerupert/pocketmoney/internal/store"
	"github.com/sethvargo/go-retry"
)

// Generator creates chore instances from active recurring templates.
type Generator struct {
	store  store.Store
	events notify.Publisher
	logger *slog.Logger

	// Conflicting transactions are retried this many times, starting at
	// retryBase, before the template is left for the next run.
	maxRetries uint64
	retryBase  time.Duration
}

func NewGenerator(s store.Store, events notify.Publisher, logger *slog.Logger) *Generator {
	if events == nil {
		events = notify.Discard
	}
	return &Generator{
		store:  s,
		events: events,
		logger: logger.With("component", "recurrence"),

		maxRetries: 5,
		retryBase:  10 * time.Millisecond,
	}
}

// GenerateDueInstances creates today's instance for every eligible active
// template, where "today" is now in the template account's timezone. Calling
// it again for the same day creates nothing. A failing template is logged
// and skipped; the joined errors are returned alongside what was created.
func (g *Generator) GenerateDueInstances(ctx context.Context, now time.Time) ([]model.ChoreInstance, error) {
	templates, err := g.store.ListActiveTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}

	locations := make(map[int64]*time.Location)
	var created []model.ChoreInstance
	var errs []error

	for _, t := range templates {
		rule, err := Parse(t.Recurrence)
		if err != nil {
			g.logger.Error("invalid template recurrence", "template_id", t.ID, "recurrence", t.Recurrence, "error", err)
			errs = append(errs, fmt.Errorf("template %d: %w", t.ID, err))
			continue
		}

		loc, ok := locations[t.AccountID]
		if !ok {
			acct, err := g.store.GetAccount(ctx, t.AccountID)
			if err != nil || acct == nil {
				g.logger.Error("load template account", "template_id", t.ID, "account_id", t.AccountID, "error", err)
				errs = append(errs, fmt.Errorf("template %d: account %d: %w", t.ID, t.AccountID, errors.Join(err, model.ErrNotFound)))
				continue
			}
			loc = acct.Location()
			locations[t.AccountID] = loc
		}

		today := model.DateOf(now, loc)
		if !Eligible(rule, t.LastGeneratedDate, today) {
			continue
		}

		inst, err := g.generate(ctx, t.ID, today, loc, now)
		if err != nil {
			g.logger.Error("generate chore instance", "template_id", t.ID, "date", today.String(), "error", err)
			errs = append(errs, fmt.Errorf("template %d: %w", t.ID, err))
			continue
		}
		if inst == nil {
			continue
		}

		metrics.ChoresGenerated.Inc()
		g.logger.Info("chore generated",
			"template_id", t.ID,
			"instance_id", inst.ID,
			"account_id", inst.AccountID,
			"date", today.String(),
		)
		g.events.Publish(notify.ChoreEvent(notify.ChoreCreated, inst))
		created = append(created, *inst)
	}

	return created, errors.Join(errs...)
}

// generate re-reads the template inside the transaction so two concurrent
// runs cannot both pass the eligibility check.
func (g *Generator) generate(ctx context.Context, templateID int64, today model.Date, loc *time.Location, now time.Time) (*model.ChoreInstance, error) {
	backoff := retry.WithMaxRetries(g.maxRetries,
		retry.WithJitterPercent(20, retry.NewExponential(g.retryBase)))

	var inst *model.ChoreInstance
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := g.store.WithTx(ctx, func(q store.Queries) error {
			return g.insert(ctx, q, templateID, today, loc, now, &inst)
		})
		if errors.Is(err, model.ErrConcurrencyConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	return inst, err
}

func (g *Generator) insert(ctx context.Context, q store.Queries, templateID int64, today model.Date, loc *time.Location, now time.Time, out **model.ChoreInstance) error {
	*out = nil
	t, err := q.GetTemplateForUpdate(ctx, templateID)
	if err != nil {
		return err
	}
	if t == nil || !t.Active {
		return nil
	}
	rule, err := Parse(t.Recurrence)
	if err != nil {
		return err
	}
	if !Eligible(rule, t.LastGeneratedDate, today) {
		return nil
	}

	due := DueDate(today, loc, t.DueAfter)
	c := &model.ChoreInstance{
		TemplateID:   &t.ID,
		AccountID:    t.AccountID,
		Title:        t.Title,
		Reward:       t.Reward,
		RequirePhoto: t.RequirePhoto,
		GeneratedFor: &today,
		DueDate:      &due,
		Status:       model.ChoreAssigned,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	if err := q.CreateInstance(ctx, c); err != nil {
		return err
	}
	if err := q.MarkTemplateGenerated(ctx, t.ID, today, now); err != nil {
		return err
	}
	*out = c
	return nil
}
