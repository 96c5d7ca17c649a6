package chore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/ledger"
	"github.com/dukerupert/pocketmoney/internal/metrics"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/notify"
	"github.com/dukerupert/pocketmoney/internal/store"
	"github.com/shopspring/decimal"
)

// AutoApproveNotes is recorded on instances approved by SweepAutoApprovals.
const AutoApproveNotes = "auto-approved"

// Service drives chore instances through their lifecycle. Transitions run
// inside the owning account's ledger transaction so an approval and its
// credit commit together.
type Service struct {
	store  store.Store
	engine *ledger.Engine
	clock  clock.Clock
	events notify.Publisher
	logger *slog.Logger
}

func NewService(s store.Store, engine *ledger.Engine, c clock.Clock, events notify.Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = notify.Discard
	}
	return &Service{
		store:  s,
		engine: engine,
		clock:  c,
		events: events,
		logger: logger.With("component", "chore"),
	}
}

func (s *Service) Get(ctx context.Context, id int64) (*model.ChoreInstance, error) {
	c, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("chore %d: %w", id, model.ErrNotFound)
	}
	return c, nil
}

// ListInstances returns instances newest first.
func (s *Service) ListInstances(ctx context.Context, f store.InstanceFilter) ([]model.ChoreInstance, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, f.Status)
	}
	return s.store.ListInstances(ctx, f)
}

// NewInstance describes a one-off chore created outside any template.
type NewInstance struct {
	AccountID    int64
	Title        string
	Reward       decimal.Decimal
	RequirePhoto bool
	DueDate      *time.Time
}

func (s *Service) CreateInstance(ctx context.Context, n NewInstance) (*model.ChoreInstance, error) {
	title := strings.TrimSpace(n.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	}
	if err := model.ValidateAmount(n.Reward); err != nil {
		return nil, err
	}
	if _, err := s.engine.GetAccount(ctx, n.AccountID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	c := &model.ChoreInstance{
		AccountID:    n.AccountID,
		Title:        title,
		Reward:       n.Reward,
		RequirePhoto: n.RequirePhoto,
		DueDate:      n.DueDate,
		Status:       model.ChoreAssigned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateInstance(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("chore created", "instance_id", c.ID, "account_id", c.AccountID, "title", c.Title)
	s.events.Publish(notify.ChoreEvent(notify.ChoreCreated, c))
	return c, nil
}

// step is one workflow transition.
type step struct {
	event Event
	actor string
	// skip reports that the instance needs no change; it is returned as is.
	skip func(c *model.ChoreInstance, now time.Time) bool
	// apply sets the fields the event owns before the status changes.
	apply func(q store.Queries, c *model.ChoreInstance, now time.Time) error
}

// transition locks the instance, checks the event against the transition
// table, applies it and publishes the change after commit.
func (s *Service) transition(ctx context.Context, id int64, st step) (*model.ChoreInstance, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *model.ChoreInstance
	var changed bool
	err = s.engine.Run(ctx, cur.AccountID, func(q store.Queries) error {
		result, changed = nil, false

		c, err := q.GetInstanceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("chore %d: %w", id, model.ErrNotFound)
		}

		now := s.clock.Now().UTC()
		if st.skip != nil && st.skip(c, now) {
			result = c
			return nil
		}
		to, err := next(c, st.event)
		if err != nil {
			return err
		}
		if st.apply != nil {
			if err := st.apply(q, c, now); err != nil {
				return err
			}
		}
		c.Status = to
		c.UpdatedAt = now
		if err := q.UpdateInstance(ctx, c); err != nil {
			return err
		}
		result, changed = c, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return result, nil
	}

	metrics.ChoreTransitions.WithLabelValues(string(st.event), string(result.Status)).Inc()
	s.logger.Info("chore transitioned",
		"instance_id", result.ID,
		"account_id", result.AccountID,
		"event", st.event,
		"status", result.Status,
		"actor", st.actor,
	)
	s.events.Publish(notify.ChoreEvent(notify.ChoreStatusChanged, result))
	return result, nil
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return fmt.Errorf("%w: actor is required", model.ErrInvalidInput)
	}
	return nil
}

// Start moves an assigned chore to in progress.
func (s *Service) Start(ctx context.Context, id int64, actor string) (*model.ChoreInstance, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, step{event: EventStart, actor: actor})
}

// Complete marks the chore done. Instances that require a photo need a
// non-empty proofRef.
func (s *Service) Complete(ctx context.Context, id int64, proofRef, actor string) (*model.ChoreInstance, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	proofRef = strings.TrimSpace(proofRef)
	return s.transition(ctx, id, step{
		event: EventComplete,
		actor: actor,
		apply: func(_ store.Queries, c *model.ChoreInstance, now time.Time) error {
			if c.RequirePhoto && proofRef == "" {
				return fmt.Errorf("chore %d: %w", c.ID, model.ErrProofRequired)
			}
			if proofRef != "" {
				c.ProofRef = &proofRef
			}
			c.CompletedAt = &now
			return nil
		},
	})
}

// Approve credits the chore's reward and marks it approved. If the credit
// fails the instance is left unchanged.
func (s *Service) Approve(ctx context.Context, id int64, notes, actor string) (*model.Transaction, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var txn *model.Transaction
	var acct *model.Account
	_, err := s.transition(ctx, id, step{
		event: EventApprove,
		actor: actor,
		apply: func(q store.Queries, c *model.ChoreInstance, now time.Time) error {
			ref := fmt.Sprintf("chore:%d", c.ID)
			var err error
			txn, acct, err = s.engine.ApplyInTx(ctx, q, ledger.Mutation{
				AccountID:   c.AccountID,
				Amount:      c.Reward,
				Kind:        model.KindCredit,
				Description: "Chore completed: " + c.Title,
				ActorID:     actor,
				SourceRef:   &ref,
			})
			if err != nil {
				return fmt.Errorf("credit reward: %w", err)
			}
			c.ResultingTransactionID = &txn.ID
			c.ReviewedAt = &now
			c.ReviewerID = &actor
			c.ReviewNotes = notes
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerMutations.WithLabelValues(string(model.KindCredit), "ok").Inc()
	s.engine.PublishBalance(acct, txn)
	return txn, nil
}

// Reject closes a completed chore without paying it.
func (s *Service) Reject(ctx context.Context, id int64, notes, actor string) (*model.ChoreInstance, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, step{
		event: EventReject,
		actor: actor,
		apply: func(_ store.Queries, c *model.ChoreInstance, now time.Time) error {
			c.ReviewedAt = &now
			c.ReviewerID = &actor
			c.ReviewNotes = notes
			return nil
		},
	})
}

// Expire closes a chore whose due date has passed. Terminal instances and
// instances not yet past due are returned unchanged.
func (s *Service) Expire(ctx context.Context, id int64) (*model.ChoreInstance, error) {
	return s.transition(ctx, id, step{
		event: EventExpire,
		actor: model.SystemActor,
		skip: func(c *model.ChoreInstance, now time.Time) bool {
			return c.Status.Terminal() || !c.PastDue(now)
		},
	})
}

// SweepAutoApprovals approves, as the system actor, every completed chore
// whose template auto-approves and whose wait has elapsed. It returns the
// number approved.
func (s *Service) SweepAutoApprovals(ctx context.Context) (int, error) {
	candidates, err := s.store.ListAutoApprovable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list auto-approvable: %w", err)
	}

	now := s.clock.Now()
	approved := 0
	var errs []error
	for _, a := range candidates {
		if a.CompletedAt.Add(a.After).After(now) {
			continue
		}
		_, err := s.Approve(ctx, a.InstanceID, AutoApproveNotes, model.SystemActor)
		switch {
		case err == nil:
			approved++
		case errors.Is(err, model.ErrInvalidTransition):
			// Reviewed by a person since the candidate list was read.
		default:
			s.logger.Error("auto-approve failed", "instance_id", a.InstanceID, "account_id", a.AccountID, "error", err)
			errs = append(errs, fmt.Errorf("chore %d: %w", a.InstanceID, err))
		}
	}
	return approved, errors.Join(errs...)
}

// SweepExpired expires every open chore that is past due. It returns the
// number expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	candidates, err := s.store.ListExpirable(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list expirable: %w", err)
	}

	expired := 0
	var errs []error
	for _, e := range candidates {
		c, err := s.Expire(ctx, e.InstanceID)
		if err != nil {
			s.logger.Error("expire failed", "instance_id", e.InstanceID, "account_id", e.AccountID, "error", err)
			errs = append(errs, fmt.Errorf("chore %d: %w", e.InstanceID, err))
			continue
		}
		if c.Status == model.ChoreExpired {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}
