// Package middleware provides HTTP request logging and Prometheus
// metrics instrumentation for the API server.
package middleware
