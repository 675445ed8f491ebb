// Package telemetry provides observability instrumentation for harnessctl.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Telemetry value that
// the CLI builds at startup and threads through a context.Context.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Loggers carry run, phase and resource fields so every line of a
// provisioning run can be correlated:
//
//	log := tel.Logger.NewComponentLogger("orchestrator").WithRunID(runID)
//	log.WithResource("connector", "k8s_dev").Info("created")
//
// Credentials must never be logged. Use Redact when an API key needs to
// appear in diagnostics.
//
// # Tracing
//
// A run produces one root span with a child span per phase, per resource
// and per Harness API request:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, projectID)
//	defer span.End()
//
// Tracing is disabled by default and uses a no-op provider in that case.
//
// # Metrics
//
// Metrics live in a private registry. The webhook receiver mounts
// Metrics.Handler on /metrics; the CLI can expose them with
// StartMetricsServer. All recording methods are safe on a disabled or nil
// collector.
package telemetry
