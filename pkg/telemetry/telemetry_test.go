package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type classifiedErr struct{}

func (classifiedErr) Error() string      { return "boom" }
func (classifiedErr) ErrorClass() string { return "external_tool" }
func (classifiedErr) ErrorCode() string  { return "PROVIDER_FAILED" }

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"empty service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"zero buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByOrder("workorder", 1))

	_ = ep.PublishOrderEvent("workorder", 1, EventApproved, "alice", "approved", nil)
	_ = ep.PublishOrderEvent("workorder", 2, EventApproved, "alice", "approved", nil)
	_ = ep.PublishOrderEvent("workorder", 1, EventFailed, "system", "failed", nil)

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != "workorder.approved" || got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[1].Level != EventLevelError {
		t.Errorf("failed event level = %s, want error", got[1].Level)
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:     true,
		EnableAsync: true,
		BufferSize:  100,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}

	var mu sync.Mutex
	count := 0
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	for i := 0; i < 10; i++ {
		if err := ep.PublishOrderEvent("network_order", int64(i), EventCreated, "", "pending", nil); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("delivered %d events, want 10", count)
	}

	if err := ep.PublishOrderEvent("network_order", 99, EventCreated, "", "", nil); err == nil {
		t.Error("expected publish after shutdown to fail")
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	ep.Subscribe(func(Event) { called = true }, nil)
	if err := ep.PublishOrderEvent("workorder", 1, EventCreated, "", "", nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if called {
		t.Error("disabled publisher delivered an event")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestFilters(t *testing.T) {
	e := Event{Type: "workorder.failed", Kind: "workorder", OrderID: 4, Level: EventLevelError}

	if !FilterByLevel(EventLevelWarning)(e) {
		t.Error("error event should pass warning filter")
	}
	if FilterByLevel(EventLevelError)(Event{Level: EventLevelInfo}) {
		t.Error("info event should not pass error filter")
	}
	if !FilterByType("workorder.failed", "workorder.completed")(e) {
		t.Error("type filter should match")
	}
	if FilterByKind("network_order")(e) {
		t.Error("kind filter should not match")
	}
	if FilterByOrder("workorder", 5)(e) {
		t.Error("order filter should not match other id")
	}
}

func TestMetricsHandlerExposesDomainSeries(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordOrderCreated("workorder")
	m.RecordTransition("workorder", "approve", "approved")
	m.ExecutionStarted("workorder")
	m.ExecutionFinished("workorder", "completed", 2*time.Second)
	m.RecordHTTPRequest("GET", "/workorders/:id", 200, time.Millisecond)
	m.RecordError("validation", "MISSING_FIELD")
	m.RecordPolicyReview(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`workorders_orders_created_total{kind="workorder"} 1`,
		`workorders_status_transitions_total{event="approve",kind="workorder",to="approved"} 1`,
		`workorders_executions_total{kind="workorder",outcome="completed"} 1`,
		`workorders_active_executions{kind="workorder"} 0`,
		`workorders_errors_total{class="validation",code="MISSING_FIELD"} 1`,
		`workorders_policy_reviews_total{allowed="false"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	m, _ := NewMetrics(MetricsConfig{Enabled: false})
	m.RecordOrderCreated("workorder")
	m.ExecutionFinished("workorder", "failed", time.Second)
	m.RecordHTTPRequest("GET", "/", 200, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
}

func TestContextHelpersWithoutTelemetry(t *testing.T) {
	ctx := context.Background()

	OrderCreated(ctx, "workorder", 1, "system")
	OrderTransitioned(ctx, "workorder", 1, "approve", EventApproved, "pending", "approved", "system")
	RecordFailure(ctx, errors.New("x"))

	ex := StartExecution(ctx, "workorder", 1)
	if ex.Ctx != ctx {
		t.Error("execution without telemetry should keep the context")
	}
	ex.Finish("completed", nil)

	var tel *Telemetry
	if tel.WithContext(ctx) != ctx {
		t.Error("nil telemetry should return ctx unchanged")
	}

	called := false
	err := RecordProviderOperation(ctx, "terraform", "apply", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("RecordProviderOperation = %v, called=%v", err, called)
	}
}

func TestRecordFailureUsesClassification(t *testing.T) {
	tel, err := NewTelemetry(TestConfig())
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	defer tel.Shutdown(context.Background())
	ctx := tel.WithContext(context.Background())

	RecordFailure(ctx, classifiedErr{})

	rec := httptest.NewRecorder()
	tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `workorders_errors_total{class="external_tool",`) {
		t.Error("expected classified error to be counted")
	}
}

func TestStartExecutionRecordsProviderCalls(t *testing.T) {
	tel, err := NewTelemetry(TestConfig())
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	defer tel.Shutdown(context.Background())

	ex := StartExecution(tel.WithContext(context.Background()), "workorder", 9)
	err = RecordProviderOperation(ex.Ctx, "terraform", "init", func(context.Context) error {
		return errors.New("exit 1")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	ex.Finish("failed", err)

	rec := httptest.NewRecorder()
	tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `workorders_provider_failures_total{operation="init",provider="terraform"} 1`) {
		t.Error("expected provider error to be counted")
	}
	if !strings.Contains(body, `workorders_executions_total{kind="workorder",outcome="failed"} 1`) {
		t.Error("expected failed execution to be counted")
	}
}
