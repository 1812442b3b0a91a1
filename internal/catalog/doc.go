// Package catalog defines the read-only view of the host's media
// catalog that the optimizer consumes, plus a filesystem-backed
// implementation that scans a directory tree for image assets.
package catalog
