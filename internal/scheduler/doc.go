// Package scheduler orchestrates batch image optimization: it walks
// the pending set in chunks, fans conversions out to a worker pool,
// applies the retention policy, and persists one record per asset.
package scheduler
