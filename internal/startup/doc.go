// Package startup loads environment configuration, validates the
// directory layout, and provides the structured startup and shutdown
// logging used by main.
package startup
