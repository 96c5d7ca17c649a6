package chore

import (
	"fmt"

	"github.com/dukerupert/pocketmoney/internal/model"
)

// Event is something that happens to a chore instance.
type Event string

const (
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventExpire   Event = "expire"
)

// transitions lists every legal move. A (status, event) pair missing from
// the table is an invalid transition.
var transitions = map[model.ChoreStatus]map[Event]model.ChoreStatus{
	model.ChoreAssigned: {
		EventStart:    model.ChoreInProgress,
		EventComplete: model.ChoreCompleted,
		EventExpire:   model.ChoreExpired,
	},
	model.ChoreInProgress: {
		EventComplete: model.ChoreCompleted,
		EventExpire:   model.ChoreExpired,
	},
	model.ChoreCompleted: {
		EventApprove: model.ChoreApproved,
		EventReject:  model.ChoreRejected,
		EventExpire:  model.ChoreExpired,
	},
}

// TransitionError reports an event that is not allowed from the instance's
// current status.
type TransitionError struct {
	InstanceID int64
	From       model.ChoreStatus
	Event      Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("chore %d: cannot %s from %s", e.InstanceID, e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == model.ErrInvalidTransition
}

// Next returns the status reached by applying ev in from.
func Next(from model.ChoreStatus, ev Event) (model.ChoreStatus, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

func next(c *model.ChoreInstance, ev Event) (model.ChoreStatus, error) {
	to, ok := Next(c.Status, ev)
	if !ok {
		return "", &TransitionError{InstanceID: c.ID, From: c.Status, Event: ev}
	}
	return to, nil
}
