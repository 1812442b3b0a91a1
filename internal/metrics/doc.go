// Package metrics defines the Prometheus instrumentation for the image
// optimizer.
//
// All metrics are declared as package-level promauto variables, grouped by
// subsystem: HTTP surface, conversion store, converter, batch scheduler,
// aggregate optimization state, negotiator, and memory backpressure.
//
// Two supporting pieces live alongside the declarations:
//
//   - [Collector] periodically pulls aggregate statistics from a
//     StatsProvider (the conversion store) and publishes them as gauges,
//     so scrape cost never lands on the request path.
//   - [InitializeMetrics] pre-populates known label combinations at startup
//     so dashboards see zero-valued series before the first conversion.
package metrics
