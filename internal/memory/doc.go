// Package memory provides memory management utilities for controlling Go's
// runtime memory usage in containerized environments.
//
// Unlike GOMAXPROCS, which Go derives from cgroup CPU limits automatically,
// GOMEMLIMIT must be configured explicitly. Image conversion is the most
// memory-hungry thing this application does, so the package serves two roles:
//
//   - [ConfigureFromEnv] sets GOMEMLIMIT from MEMORY_LIMIT/MEMORY_RATIO
//     environment variables (Kubernetes Downward API friendly), reserving
//     headroom for libvips and ffmpeg allocations outside the Go heap.
//   - [Monitor] tracks heap usage against the limit and gives the batch
//     worker pool backpressure signals: workers call WaitIfPaused before
//     decoding a source so bulk conversion cannot push the process into an
//     OOM kill.
//
// The detected ceiling is also surfaced through the capability probe for
// diagnostics display.
//
// Typical wiring:
//
//	memory.ConfigureFromEnv()
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
package memory
