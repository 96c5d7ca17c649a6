package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

const (
	BalanceChanged     = "balance_changed"
	ChoreCreated       = "chore_created"
	ChoreStatusChanged = "chore_status_changed"
)

// Event is a committed state change. Events are only published after the
// store transaction that produced them has committed.
type Event struct {
	Type        string             `json:"type"`
	AccountID   int64              `json:"account_id"`
	Balance     *decimal.Decimal   `json:"balance,omitempty"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	InstanceID  int64              `json:"instance_id,omitempty"`
	Status      model.ChoreStatus  `json:"status,omitempty"`
	Title       string             `json:"title,omitempty"`
	Reward      *decimal.Decimal   `json:"reward,omitempty"`
	At          time.Time          `json:"at"`
}

// Sink delivers events to one transport.
type Sink interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// Publisher accepts events without blocking the caller. Delivery failures
// never propagate back to the operation that produced the event.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Dispatcher fans events out to sinks, each on its own goroutine.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.With("component", "notify"),
	}
}

// Add registers another sink. It must be called before the first Publish.
func (d *Dispatcher) Add(s Sink) {
	d.sinks = append(d.sinks, s)
}

func (d *Dispatcher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	for _, s := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := s.Notify(ctx, e); err != nil {
				d.logger.Warn("notification failed", "sink", s.Name(), "type", e.Type, "account_id", e.AccountID, "error", err)
			}
		}(s)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(ctx context.Context, e Event) error {
	attrs := []any{"type", e.Type, "account_id", e.AccountID}
	if e.Balance != nil {
		attrs = append(attrs, "balance", e.Balance.StringFixed(model.MoneyPlaces))
	}
	if e.InstanceID != 0 {
		attrs = append(attrs, "instance_id", e.InstanceID, "status", e.Status)
	}
	s.logger.InfoContext(ctx, "event", attrs...)
	return nil
}

// BalanceEvent builds the event published after a ledger mutation commits.
func BalanceEvent(a *model.Account, t *model.Transaction) Event {
	bal := a.Balance
	return Event{
		Type:        BalanceChanged,
		AccountID:   a.ID,
		Balance:     &bal,
		Transaction: t,
		At:          t.CreatedAt,
	}
}

// ChoreEvent builds the event published after a chore instance changes.
func ChoreEvent(eventType string, c *model.ChoreInstance) Event {
	reward := c.Reward
	return Event{
		Type:       eventType,
		AccountID:  c.AccountID,
		InstanceID: c.ID,
		Status:     c.Status,
		Title:      c.Title,
		Reward:     &reward,
		At:         c.UpdatedAt,
	}
}

// Money formats d as dollars with thousands separators, e.g. $1,234.50.
func Money(d decimal.Decimal) string {
	s := humanize.FormatFloat("#,###.##", d.Abs().InexactFloat64())
	if d.IsNegative() {
		return "-$" + s
	}
	return "$" + s
}
