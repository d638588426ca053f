// Package otel binds tokengate metrics to OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter, an
// Int64ObservableGauge per latency bucket and one for the active-sessions
// gauge. A single callback reads [tokengate.Engine.MetricsSnapshot] on each
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
