package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/intake"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// Default page sizes for list operations.
const (
	DefaultWorkOrderLimit    = 5
	DefaultNetworkOrderLimit = 100
)

// Option configures a service.
type Option func(*options)

type options struct {
	logger   zerolog.Logger
	tel      *telemetry.Telemetry
	now      func() time.Time
	reviewer Reviewer
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTelemetry attaches metrics, tracing and lifecycle events to every
// call whose context does not already carry telemetry.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *options) { o.tel = tel }
}

// WithClock overrides the clock used for log timestamps and intake defaults.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithReviewer enables advisory policy review of workorders.
func WithReviewer(r Reviewer) Option {
	return func(o *options) { o.reviewer = r }
}

// StatusView is the compact status of one order.
type StatusView struct {
	ID               int64         `json:"id"`
	Status           stores.Status `json:"status"`
	VMID             *string       `json:"vm_id,omitempty"`
	SegmentID        *string       `json:"segment_id,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
	AvailableActions []string      `json:"available_actions"`
}

// LogView is the last execution log of one order.
type LogView struct {
	ID     int64         `json:"id"`
	Status stores.Status `json:"status"`
	Log    *string       `json:"log"`
}

// base holds what both order services share: the status machine, the guarded
// transitions and error mapping.
type base struct {
	kind      stores.Kind
	store     stores.Store
	lifecycle *Lifecycle
	intake    *intake.Normalizer
	logger    zerolog.Logger
	tel       *telemetry.Telemetry
	now       func() time.Time
	reviewer  Reviewer
	limit     int
}

func newBase(kind stores.Kind, store stores.Store, limit int, opts []Option) base {
	o := options{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With().Str("component", string(kind)+"-service").Logger()
	return base{
		kind:      kind,
		store:     store,
		lifecycle: NewLifecycle(logger),
		intake:    intake.NewNormalizer(logger, o.now),
		logger:    logger,
		tel:       o.tel,
		now:       o.now,
		reviewer:  o.reviewer,
		limit:     limit,
	}
}

// Lifecycle returns the status machine used by the service.
func (b *base) Lifecycle() *Lifecycle {
	return b.lifecycle
}

func (b *base) withTelemetry(ctx context.Context) context.Context {
	if b.tel == nil || telemetry.FromTelemetryContext(ctx) != nil {
		return ctx
	}
	return b.tel.WithContext(ctx)
}

func (b *base) resource(id int64) string {
	return fmt.Sprintf("%s:%d", b.kind, id)
}

func (b *base) timestamp() string {
	return b.now().UTC().Format(time.RFC3339)
}

// fire moves order id from current through event. The store re-checks the
// status in the same transaction, so of two concurrent callers that both saw
// current only one succeeds.
func (b *base) fire(ctx context.Context, id int64, current stores.Status, event Event, log, resourceID *string) error {
	next, err := b.lifecycle.Next(ctx, current, event)
	if err != nil {
		return b.notAllowed(id, current, event, err)
	}

	actor := ActorFromContext(ctx)
	previous, err := b.store.TransitionStatus(ctx, stores.Transition{
		Kind:       b.kind,
		ID:         id,
		From:       b.lifecycle.Sources(event),
		To:         next,
		Log:        log,
		ResourceID: resourceID,
		Event:      string(event),
		Actor:      actor,
	})
	if err != nil {
		var conflict *stores.StatusConflictError
		if errors.As(err, &conflict) {
			return b.notAllowed(id, conflict.Current, event, err)
		}
		return b.storeError(id, fmt.Sprintf("failed to %s %s", event, b.kind), err)
	}

	b.logger.Info().
		Int64("id", id).
		Str("event", string(event)).
		Str("from", string(previous)).
		Str("to", string(next)).
		Str("actor", actor).
		Msg("order transitioned")
	telemetry.OrderTransitioned(ctx, string(b.kind), id, string(event), eventName(event), string(previous), string(next), actor)
	return nil
}

func (b *base) notAllowed(id int64, current stores.Status, event Event, err error) error {
	action := string(event)
	if event == EventStart {
		action = "execute"
	}
	return NewInvalidTransitionError(
		fmt.Sprintf("cannot %s %s %d in status %s", action, b.kind, id, current), err).
		WithResource(b.resource(id)).
		WithOperation(action).
		WithDetail("status", string(current))
}

// finish closes an execution with succeed or fail. The record must still be
// executing; anything else means it was changed underneath the execution.
func (b *base) finish(ctx context.Context, id int64, event Event, log *execLog, resourceID *string) error {
	err := b.fire(ctx, id, stores.StatusExecuting, event, log.ptr(), resourceID)
	if err == nil {
		return nil
	}
	if IsInvalidTransition(err) {
		b.logger.Warn().Err(err).Int64("id", id).Str("event", string(event)).
			Msg("order left executing status before execution finished")
	}
	return NewInternalError(fmt.Sprintf("failed to record execution outcome for %s %d", b.kind, id), err).
		WithResource(b.resource(id)).
		WithOperation("execute")
}

func (b *base) storeError(id int64, message string, err error) error {
	if stores.IsNotFound(err) {
		return NewNotFoundError(fmt.Sprintf("%s %d not found", b.kind, id), err).WithResource(b.resource(id))
	}
	return NewInternalError(message, err).WithResource(b.resource(id))
}

// invalid converts intake rejections into validation errors carrying the
// itemized messages.
func (b *base) invalid(err error) error {
	var verr *intake.ValidationError
	if !errors.As(err, &verr) {
		return NewInternalError("failed to read request", err)
	}
	e := NewValidationError(verr.Error(), verr).WithDetail("errors", verr.Messages())
	if verr.HasMissing() {
		e = e.WithCode(ErrCodeMissingField)
	}
	return e
}

// filter applies list defaults and rejects unusable paging values.
func (b *base) filter(f stores.ListFilter) (stores.ListFilter, error) {
	if f.Limit < 0 {
		return f, NewValidationError("limit must not be negative", nil).WithDetail("errors", []string{"limit must not be negative"})
	}
	if f.Offset < 0 {
		return f, NewValidationError("offset must not be negative", nil).WithDetail("errors", []string{"offset must not be negative"})
	}
	if f.Status != "" {
		if err := f.Status.Validate(); err != nil {
			return f, NewValidationError(err.Error(), err).WithDetail("errors", []string{err.Error()})
		}
	}
	if f.Limit == 0 {
		f.Limit = b.limit
	}
	return f, nil
}

// Audit lists the audit trail of one order, newest first. The order must
// exist.
func (b *base) audit(ctx context.Context, id int64, limit, offset int) ([]*stores.AuditEntry, error) {
	target := b.resource(id)
	entries, err := b.store.ListAuditEntries(ctx, &target, limit, offset)
	if err != nil {
		return nil, NewInternalError("failed to list audit entries", err).WithResource(target)
	}
	return entries, nil
}

func (b *base) statusView(id int64, status stores.Status, updated time.Time) *StatusView {
	actions := b.lifecycle.UserActions(status)
	if actions == nil {
		actions = []string{}
	}
	return &StatusView{
		ID:               id,
		Status:           status,
		UpdatedAt:        updated,
		AvailableActions: actions,
	}
}
