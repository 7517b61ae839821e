// Package telemetry provides observability instrumentation for hrguard.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus).
//
// Initialize telemetry once at the composition root:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Packages that emit spans obtain a tracer through otel.Tracer; NewTracer
// installs the global provider. Metrics methods are nil-safe so components can
// be built without a collector in tests.
package telemetry
