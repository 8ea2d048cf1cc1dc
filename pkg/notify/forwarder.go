// Package notify forwards order lifecycle events to NATS.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/telemetry"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "workorders"

// Publisher is the part of a NATS connection the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Forwarder publishes every lifecycle event it receives to
// "<prefix>.<kind>.<name>", e.g. "workorders.workorder.approved".
type Forwarder struct {
	pub    Publisher
	prefix string
	logger zerolog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewForwarder creates a forwarder over pub.
func NewForwarder(pub Publisher, prefix string, logger zerolog.Logger) *Forwarder {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Forwarder{
		pub:    pub,
		prefix: prefix,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Subject returns the subject an event is published on.
func (f *Forwarder) Subject(e telemetry.Event) string {
	return fmt.Sprintf("%s.%s.%s", f.prefix, e.Kind, e.Name)
}

// Attach subscribes the forwarder to order events from events.
func (f *Forwarder) Attach(events *telemetry.EventPublisher) {
	events.Subscribe(f.Forward, func(e telemetry.Event) bool {
		return e.Kind != "" && e.Name != ""
	})
}

// Forward publishes one event. Failures are logged and counted; they never
// reach the code that emitted the event.
func (f *Forwarder) Forward(e telemetry.Event) {
	subject := f.Subject(e)

	data, err := json.Marshal(e)
	if err != nil {
		f.failed.Add(1)
		f.logger.Error().Err(err).Str("subject", subject).Msg("failed to encode event")
		return
	}
	if err := f.pub.Publish(subject, data); err != nil {
		f.failed.Add(1)
		f.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
		return
	}
	f.published.Add(1)
	f.logger.Debug().Str("subject", subject).Int64("order_id", e.OrderID).Msg("event forwarded")
}

// Stats returns how many events were published and how many failed.
func (f *Forwarder) Stats() (published, failed int64) {
	return f.published.Load(), f.failed.Load()
}

// Connect dials NATS with reconnects that never give up.
func Connect(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	logger = logger.With().Str("component", "notify").Logger()
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected to nats")
	return nc, nil
}

// Close drains and closes nc.
func Close(nc *nats.Conn) {
	if nc == nil {
		return
	}
	_ = nc.Drain()
	nc.Close()
}
