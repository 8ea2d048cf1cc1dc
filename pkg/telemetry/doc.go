// Package telemetry provides observability instrumentation for the workorder
// service.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and an in-process lifecycle event bus.
//
// # Usage
//
// Initialize telemetry at startup and attach it to request contexts:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Package-level helpers read the instance from the context and are no-ops
// when none is attached, so library code can instrument unconditionally:
//
//	ex := telemetry.StartExecution(ctx, "workorder", id)
//	defer ex.Finish("completed", nil)
//
// # Events
//
// Every committed status change is published as an Event whose Type is
// "<kind>.<name>", for example "workorder.approved" or
// "network_order.failed". Subscribers receive events serially, either
// inline (EnableAsync false) or from the publisher's delivery goroutine.
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.OrderID)
//	}, telemetry.FilterByKind("workorder"))
//
// # Metrics
//
// Metrics live in a private registry exposed through Metrics.Handler, which
// the API server mounts on /metrics.
package telemetry
