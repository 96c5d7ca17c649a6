package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/notify"
)

// Sink pushes balance and chore changes to the account's subscribed
// devices. It implements notify.Sink.
type Sink struct {
	service *Service
	logger  *slog.Logger
}

func NewSink(service *Service, logger *slog.Logger) *Sink {
	return &Sink{service: service, logger: logger.With("component", "push")}
}

func (s *Sink) Name() string { return "webpush" }

func (s *Sink) Notify(ctx context.Context, e notify.Event) error {
	payload, ok := PayloadFor(e)
	if !ok {
		return nil
	}

	subs, err := s.service.store.ListPushSubscriptions(ctx, e.AccountID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	var errs []error
	for i := range subs {
		sub := &subs[i]
		err := s.service.Send(ctx, sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrExpired):
			s.logger.Info("removing expired subscription", "subscription_id", sub.ID, "account_id", sub.AccountID)
			if err := s.service.store.DeletePushSubscriptionByEndpoint(ctx, sub.Endpoint); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("subscription %d: %w", sub.ID, err))
		}
	}
	return errors.Join(errs...)
}

// PayloadFor renders the notification for e. Events with nothing worth a
// device notification report false.
func PayloadFor(e notify.Event) (Payload, bool) {
	switch e.Type {
	case notify.BalanceChanged:
		if e.Transaction == nil || e.Balance == nil {
			return Payload{}, false
		}
		sign := "+"
		if e.Transaction.Kind == model.KindDebit {
			sign = "-"
		}
		return Payload{
			Title: "Balance updated",
			Body: fmt.Sprintf("%s%s %s. Balance is now %s",
				sign, notify.Money(e.Transaction.Amount), e.Transaction.Description, notify.Money(*e.Balance)),
			URL: fmt.Sprintf("/accounts/%d", e.AccountID),
			Tag: fmt.Sprintf("balance-%d", e.AccountID),
		}, true

	case notify.ChoreCreated:
		return Payload{
			Title: "New chore",
			Body:  choreLine(e),
			URL:   fmt.Sprintf("/chores/%d", e.InstanceID),
			Tag:   fmt.Sprintf("chore-%d", e.InstanceID),
		}, true

	case notify.ChoreStatusChanged:
		var title string
		switch e.Status {
		case model.ChoreCompleted:
			title = "Chore ready for review"
		case model.ChoreApproved:
			title = "Chore approved"
		case model.ChoreRejected:
			title = "Chore needs another try"
		case model.ChoreExpired:
			title = "Chore expired"
		default:
			return Payload{}, false
		}
		return Payload{
			Title: title,
			Body:  choreLine(e),
			URL:   fmt.Sprintf("/chores/%d", e.InstanceID),
			Tag:   fmt.Sprintf("chore-%d", e.InstanceID),
		}, true
	}
	return Payload{}, false
}

func choreLine(e notify.Event) string {
	if e.Reward == nil {
		return e.Title
	}
	return fmt.Sprintf("%s (%s)", e.Title, notify.Money(*e.Reward))
}
