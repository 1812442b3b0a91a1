// Package probe detects which derived encodings the running process
// can produce and what memory budget conversions must respect.
package probe
