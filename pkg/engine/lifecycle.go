package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// Event is a lifecycle action that moves an order between statuses.
type Event string

const (
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventStart   Event = "start"
	EventSucceed Event = "succeed"
	EventFail    Event = "fail"
)

// ErrTransitionNotAllowed is returned when an event cannot fire from the
// current status.
var ErrTransitionNotAllowed = errors.New("transition not allowed")

var allStatuses = []string{
	string(stores.StatusPending),
	string(stores.StatusApproved),
	string(stores.StatusRejected),
	string(stores.StatusExecuting),
	string(stores.StatusCompleted),
	string(stores.StatusFailed),
}

// Lifecycle is the order status machine. Approve and reject fire from any
// status; approving an executing order is the manual recovery path for an
// execution that died without a result. Only an approved order can start,
// and only an executing order can finish.
type Lifecycle struct {
	events []fsm.EventDesc
	logger zerolog.Logger
}

// NewLifecycle builds the transition table.
func NewLifecycle(logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		events: fsm.Events{
			{Name: string(EventApprove), Src: allStatuses, Dst: string(stores.StatusApproved)},
			{Name: string(EventReject), Src: allStatuses, Dst: string(stores.StatusRejected)},
			{Name: string(EventStart), Src: []string{string(stores.StatusApproved)}, Dst: string(stores.StatusExecuting)},
			{Name: string(EventSucceed), Src: []string{string(stores.StatusExecuting)}, Dst: string(stores.StatusCompleted)},
			{Name: string(EventFail), Src: []string{string(stores.StatusExecuting)}, Dst: string(stores.StatusFailed)},
		},
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
}

func (l *Lifecycle) machine(current stores.Status) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		l.events,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Debug().
					Str("event", e.Event).
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("lifecycle transition")
			},
		},
	)
}

// Next returns the status an order in current reaches when event fires.
// Firing an event whose destination is the current status succeeds and
// returns current.
func (l *Lifecycle) Next(ctx context.Context, current stores.Status, event Event) (stores.Status, error) {
	if err := current.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransitionNotAllowed, err)
	}

	m := l.machine(current)
	if !m.Can(string(event)) {
		return "", fmt.Errorf("%w: cannot %s from %s", ErrTransitionNotAllowed, event, current)
	}

	if err := m.Event(ctx, string(event)); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			return "", fmt.Errorf("%w: %v", ErrTransitionNotAllowed, err)
		}
	}

	return stores.Status(m.Current()), nil
}

// Sources returns the statuses event may fire from, or nil when it may fire
// from any status.
func (l *Lifecycle) Sources(event Event) []stores.Status {
	for _, e := range l.events {
		if e.Name != string(event) {
			continue
		}
		if len(e.Src) == len(allStatuses) {
			return nil
		}
		src := make([]stores.Status, len(e.Src))
		for i, s := range e.Src {
			src[i] = stores.Status(s)
		}
		return src
	}
	return nil
}

// Available lists the events that can fire from current, in table order.
func (l *Lifecycle) Available(current stores.Status) []Event {
	m := l.machine(current)
	var out []Event
	for _, e := range l.events {
		if m.Can(e.Name) {
			out = append(out, Event(e.Name))
		}
	}
	return out
}

// UserActions filters Available down to the events a client can request
// directly: approve, reject and execute.
func (l *Lifecycle) UserActions(current stores.Status) []string {
	var out []string
	for _, e := range l.Available(current) {
		switch e {
		case EventApprove, EventReject:
			out = append(out, string(e))
		case EventStart:
			out = append(out, "execute")
		}
	}
	return out
}

// eventName maps a lifecycle event to the name used in published events.
func eventName(e Event) string {
	switch e {
	case EventApprove:
		return telemetry.EventApproved
	case EventReject:
		return telemetry.EventRejected
	case EventStart:
		return telemetry.EventExecutionStarted
	case EventSucceed:
		return telemetry.EventCompleted
	case EventFail:
		return telemetry.EventFailed
	default:
		return string(e)
	}
}
