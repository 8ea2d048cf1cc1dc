package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and lifecycle events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
// A nil receiver returns ctx unchanged.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	if t == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown drains events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// classified is satisfied by errors that carry a class and a code.
type classified interface {
	ErrorClass() string
	ErrorCode() string
}

// RecordFailure counts err under its class and code when it has them.
func RecordFailure(ctx context.Context, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil || err == nil {
		return
	}
	var c classified
	if errors.As(err, &c) {
		tel.Metrics.RecordError(c.ErrorClass(), c.ErrorCode())
		return
	}
	tel.Metrics.RecordError("internal", "")
}

// OrderCreated records and announces a newly accepted order.
func OrderCreated(ctx context.Context, kind string, id int64, actor string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordOrderCreated(kind)
	if err := tel.Events.PublishOrderEvent(kind, id, EventCreated, actor, "pending", nil); err != nil {
		FromContext(ctx).WithError(err).Warn("failed to publish event")
	}
}

// OrderChanged announces a non-status change such as an update or delete.
func OrderChanged(ctx context.Context, kind string, id int64, name, actor string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	if err := tel.Events.PublishOrderEvent(kind, id, name, actor, "", nil); err != nil {
		FromContext(ctx).WithError(err).Warn("failed to publish event")
	}
}

// OrderTransitioned records a committed status change and publishes the
// matching lifecycle event.
func OrderTransitioned(ctx context.Context, kind string, id int64, event, name, from, to, actor string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordTransition(kind, event, to)
	AddSpanEvent(ctx, name, AttrOrderStatus.String(to), AttrActor.String(actor))

	data := map[string]interface{}{"from": from, "to": to}
	if err := tel.Events.PublishOrderEvent(kind, id, name, actor, to, data); err != nil {
		FromContext(ctx).WithError(err).Warn("failed to publish event")
	}
}

// PolicyReviewed counts a finished policy review.
func PolicyReviewed(ctx context.Context, allowed bool) {
	if tel := FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordPolicyReview(allowed)
	}
}

// Execution tracks one execute request from start to outcome.
type Execution struct {
	tel   *Telemetry
	kind  string
	span  trace.Span
	timer *Timer
	Ctx   context.Context
}

// StartExecution opens a span for executing one order and marks it in flight.
func StartExecution(ctx context.Context, kind string, id int64) *Execution {
	tel := FromTelemetryContext(ctx)
	ex := &Execution{tel: tel, kind: kind, timer: NewTimer(), Ctx: ctx}
	if tel == nil {
		return ex
	}

	spanCtx, span := tel.Tracer.StartOrderSpan(ctx, kind, id, "execute")
	ex.span = span
	ex.Ctx = FromContext(ctx).WithOrder(kind, id).WithContext(spanCtx)
	tel.Metrics.ExecutionStarted(kind)
	return ex
}

// Finish records the outcome ("completed", "failed" or "error").
func (ex *Execution) Finish(outcome string, err error) {
	if ex.tel == nil {
		return
	}
	ex.tel.Metrics.ExecutionFinished(ex.kind, outcome, ex.timer.Duration())
	if err != nil {
		RecordError(ex.span, err)
	} else {
		RecordSuccess(ex.span)
	}
	ex.span.End()
}

// AddSpanEvent adds an event to the span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordProviderOperation wraps an external tool invocation with a span and metrics.
func RecordProviderOperation(ctx context.Context, providerName, operation string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartProviderSpan(ctx, providerName, operation)
		defer span.End()
	}

	timer := NewTimer()
	err := fn(ctx)

	if tel != nil {
		tel.Metrics.RecordProviderCall(providerName, operation, timer.Duration())
		if err != nil {
			tel.Metrics.RecordProviderError(providerName, operation)
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
