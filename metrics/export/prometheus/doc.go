// Package prometheus renders tokengate metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts a [tokengate.Engine] and exposes an
// [http.Handler]. Counter names are tokengate_*_total, latency histograms are
// tokengate_*_latency_seconds and the session gauge is
// tokengate_active_sessions.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
