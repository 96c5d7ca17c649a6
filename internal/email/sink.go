package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/notify"
)

// Sink emails the parents when a chore needs their attention: it was
// completed and awaits review, or it expired unfinished. It implements
// notify.Sink.
type Sink struct {
	client  *Client
	to      []string
	baseURL string
}

func NewSink(client *Client, parents []string, baseURL string) *Sink {
	return &Sink{client: client, to: parents, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *Sink) Name() string { return "email" }

func (s *Sink) Notify(ctx context.Context, e notify.Event) error {
	m, ok := s.messageFor(e)
	if !ok {
		return nil
	}

	var errs []error
	for _, to := range s.to {
		m.To = to
		if err := s.client.Send(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) messageFor(e notify.Event) (Message, bool) {
	if e.Type != notify.ChoreStatusChanged {
		return Message{}, false
	}

	var subject, line string
	switch e.Status {
	case model.ChoreCompleted:
		subject = "Chore ready for review: " + e.Title
		line = "was marked complete and is waiting for your review"
	case model.ChoreExpired:
		subject = "Chore expired: " + e.Title
		line = "expired before it was finished"
	default:
		return Message{}, false
	}

	chore := e.Title
	if e.Reward != nil {
		chore = fmt.Sprintf("%s (%s)", e.Title, notify.Money(*e.Reward))
	}
	link := fmt.Sprintf("%s/chores/%d", s.baseURL, e.InstanceID)

	return Message{
		Subject:  subject,
		TextBody: fmt.Sprintf("%s %s.\n\n%s", chore, line, link),
		HTMLBody: fmt.Sprintf(`<p>%s %s.</p><p><a href="%s">Open chore</a></p>`,
			html.EscapeString(chore), line, html.EscapeString(link)),
	}, true
}
