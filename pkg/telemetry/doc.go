// Package telemetry provides observability instrumentation for cloudverge.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics, and an in-process event bus behind a
// single Telemetry facade. Components carry a child logger created with
// NewComponentLogger; individual operations are instrumented with
// StartOperation, which starts a span, tags the logger with the trace ids,
// and times the work until End is called.
//
// Tracing and metrics are off by default; the defaults suit one-shot CLI
// invocations, while ProductionConfig enables the OTLP exporter and the
// metrics endpoint for long-running drift watchers.
package telemetry
