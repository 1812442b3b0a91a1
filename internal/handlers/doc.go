// Package handlers implements the HTTP API: optimizer statistics and
// batch control, per-asset conversion state, content-negotiated image
// resolution, and health endpoints.
package handlers
