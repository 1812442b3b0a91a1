package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"image-optimizer/internal/catalog"
	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/logging"
	"image-optimizer/internal/metrics"
)

// Default timeout for store operations
const defaultTimeout = 5 * time.Second

// catalogPageSize is how many catalog entries are examined per query
// when computing the pending set.
const catalogPageSize = 200

// ErrNotFound is returned when no record exists for an asset.
var ErrNotFound = errors.New("conversion record not found")

// Store persists conversion records in SQLite. A single instance is
// safe for concurrent use; per-asset writes run in their own
// transaction so readers never observe a half-updated record.
type Store struct {
	db          *sql.DB
	dbPath      string
	catalog     catalog.Catalog
	maxAttempts int
}

// New opens (or creates) the conversion database at dbPath. The parent
// directory must already exist and be writable. cat supplies the asset
// universe for pending-set computation; maxAttempts caps retries of
// failed assets.
func New(ctx context.Context, dbPath string, cat catalog.Catalog, maxAttempts int) (*Store, error) {
	logging.Info("Conversion store path: %s", dbPath)

	if err := diagnosePermissions(dbPath); err != nil {
		logging.Warn("Store permission diagnostics: %v", err)
	}

	// WAL for concurrent readers; busy_timeout prevents "database is
	// locked" under worker-pool write contention.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversion database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to conversion database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:          db,
		dbPath:      dbPath,
		catalog:     cat,
		maxAttempts: maxAttempts,
	}

	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize conversion schema: %w", err)
	}

	logging.Info("Conversion store initialized at %s", dbPath)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("initialize_schema", start, err) }()

	schema := `
	CREATE TABLE IF NOT EXISTS conversions (
		asset_id TEXT PRIMARY KEY,
		original_format TEXT NOT NULL,
		original_size INTEGER NOT NULL,
		original_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		skip_reason TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);

	CREATE TABLE IF NOT EXISTS candidates (
		asset_id TEXT NOT NULL,
		format TEXT NOT NULL,
		url TEXT NOT NULL,
		size INTEGER NOT NULL,
		PRIMARY KEY (asset_id, format),
		FOREIGN KEY (asset_id) REFERENCES conversions(asset_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(initCtx, schema)
	return err
}

// Get returns the record for assetID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, assetID string) (*Record, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_record", start, err) }()

	qCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rec := &Record{AssetID: assetID}
	var createdAt, updatedAt int64
	var format string
	err = s.db.QueryRowContext(qCtx, `
		SELECT original_format, original_size, original_url, status,
		       skip_reason, failure_reason, attempts, created_at, updated_at
		FROM conversions WHERE asset_id = ?`, assetID).Scan(
		&format, &rec.OriginalSizeBytes, &rec.OriginalURL, &rec.Status,
		&rec.SkipReason, &rec.FailureReason, &rec.Attempts, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil // not an error for metrics purposes
		return nil, fmt.Errorf("%w: %s", ErrNotFound, assetID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying record for %s: %w", assetID, err)
	}
	rec.OriginalFormat = imagetypes.Format(format)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	rec.Candidates, err = s.loadCandidates(qCtx, assetID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Upsert writes the record and its candidate rows in one transaction.
// CreatedAt is preserved for existing records; UpdatedAt is set to now.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	start := time.Now()
	var err error
	defer func() {
		recordQuery("upsert_record", start, err)
		txType := "commit"
		if err != nil {
			txType = "rollback"
		}
		metrics.DBTransactionDuration.WithLabelValues(txType).Observe(time.Since(start).Seconds())
	}()

	txCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Error("rollback failed for %s: %v", rec.AssetID, rbErr)
			}
		}
	}()

	now := time.Now().Unix()
	_, err = tx.ExecContext(txCtx, `
		INSERT INTO conversions
			(asset_id, original_format, original_size, original_url, status,
			 skip_reason, failure_reason, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			original_format = excluded.original_format,
			original_size = excluded.original_size,
			original_url = excluded.original_url,
			status = excluded.status,
			skip_reason = excluded.skip_reason,
			failure_reason = excluded.failure_reason,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at`,
		rec.AssetID, string(rec.OriginalFormat), rec.OriginalSizeBytes, rec.OriginalURL,
		string(rec.Status), rec.SkipReason, rec.FailureReason, rec.Attempts, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting record for %s: %w", rec.AssetID, err)
	}

	if _, err = tx.ExecContext(txCtx, `DELETE FROM candidates WHERE asset_id = ?`, rec.AssetID); err != nil {
		return fmt.Errorf("clearing candidates for %s: %w", rec.AssetID, err)
	}
	for format, c := range rec.Candidates {
		if _, err = tx.ExecContext(txCtx, `
			INSERT INTO candidates (asset_id, format, url, size) VALUES (?, ?, ?, ?)`,
			rec.AssetID, string(format), c.URL, c.SizeBytes,
		); err != nil {
			return fmt.Errorf("inserting %s candidate for %s: %w", format, rec.AssetID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert for %s: %w", rec.AssetID, err)
	}
	return nil
}

// Delete removes the record and, via the foreign key cascade, its
// candidate rows. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, assetID string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_record", start, err) }()

	qCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(qCtx, `DELETE FROM conversions WHERE asset_id = ?`, assetID)
	if err != nil {
		return fmt.Errorf("deleting record for %s: %w", assetID, err)
	}
	return nil
}

func (s *Store) loadCandidates(ctx context.Context, assetID string) (map[imagetypes.Format]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT format, url, size FROM candidates WHERE asset_id = ?`, assetID)
	if err != nil {
		return nil, fmt.Errorf("querying candidates for %s: %w", assetID, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logging.Error("failed to close candidate rows: %v", closeErr)
		}
	}()

	out := make(map[imagetypes.Format]Candidate)
	for rows.Next() {
		var format string
		var c Candidate
		if err := rows.Scan(&format, &c.URL, &c.SizeBytes); err != nil {
			return nil, fmt.Errorf("scanning candidate for %s: %w", assetID, err)
		}
		out[imagetypes.Format(format)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates for %s: %w", assetID, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateDBMetrics publishes connection pool gauges.
func (s *Store) UpdateDBMetrics() {
	stats := s.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// recordQuery records store query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// diagnosePermissions checks database directory and file permissions
func diagnosePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	if dbInfo, err := os.Stat(dbPath); err == nil {
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
		}
	}
	return nil
}
