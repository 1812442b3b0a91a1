// Package store persists conversion records in SQLite and derives the
// pending work set by joining the host catalog against recorded state.
package store
