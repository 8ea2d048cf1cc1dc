package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification about one order.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Type is "<kind>.<name>", e.g. "workorder.approved".
	Type string `json:"type"`

	// Kind and Name are the two halves of Type.
	Kind string `json:"kind"`
	Name string `json:"name"`

	OrderID int64  `json:"order_id"`
	Actor   string `json:"actor,omitempty"`
	Status  string `json:"status,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Lifecycle event names.
const (
	EventCreated          = "created"
	EventApproved         = "approved"
	EventRejected         = "rejected"
	EventExecutionStarted = "execution_started"
	EventCompleted        = "completed"
	EventFailed           = "failed"
	EventUpdated          = "updated"
	EventDeleted          = "deleted"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans lifecycle events out to subscribers. In async mode a
// single goroutine delivers in publish order; otherwise Publish delivers
// inline.
type EventPublisher struct {
	config EventsConfig

	mu          sync.RWMutex
	subscribers []subscription

	queue   chan Event
	stopped chan struct{}
	done    chan struct{}
	once    sync.Once
}

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// NewEventPublisher creates a publisher. A disabled publisher drops events.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{
		config:  cfg,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if !cfg.Enabled || !cfg.EnableAsync {
		close(ep.done)
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep.queue = make(chan Event, cfg.BufferSize)
	go ep.run()
	return ep, nil
}

// Publish stamps event and hands it to every matching subscriber. It fails
// after Shutdown and, in async mode, when the queue is full.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	select {
	case <-ep.stopped:
		return fmt.Errorf("event publisher stopped")
	default:
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Type == "" {
		event.Type = event.Kind + "." + event.Name
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return fmt.Errorf("event queue full, dropped %s", event.Type)
	}
}

// PublishOrderEvent publishes a lifecycle event for one order.
func (ep *EventPublisher) PublishOrderEvent(kind string, id int64, name, actor, status string, data map[string]interface{}) error {
	level := EventLevelInfo
	if name == EventFailed {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Kind:    kind,
		Name:    name,
		OrderID: id,
		Actor:   actor,
		Status:  status,
		Message: fmt.Sprintf("%s %d %s", kind, id, name),
		Level:   level,
		Data:    data,
	})
}

// Subscribe registers fn. A nil filter matches every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscription{fn: fn, filter: filter})
}

func (ep *EventPublisher) run() {
	defer close(ep.done)
	for {
		select {
		case event := <-ep.queue:
			ep.deliver(event)
		case <-ep.stopped:
			for {
				select {
				case event := <-ep.queue:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, s := range ep.subscribers {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops accepting events and waits for queued ones to be
// delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil {
		return nil
	}
	ep.once.Do(func() { close(ep.stopped) })

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel only allows events of the given level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByKind only allows events about one order kind.
func FilterByKind(kind string) EventFilter {
	return func(event Event) bool {
		return event.Kind == kind
	}
}

// FilterByOrder only allows events about one order.
func FilterByOrder(kind string, id int64) EventFilter {
	return func(event Event) bool {
		return event.Kind == kind && event.OrderID == id
	}
}
