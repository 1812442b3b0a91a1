package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"image-optimizer/internal/catalog"
	"image-optimizer/internal/metrics"
)

const cursorKey = "batch_cursor"

// ListPending returns up to limit assets that still need processing,
// walking the catalog from the given catalog offset. An asset is
// pending when it has no record, or a failed record with attempts
// below the retry cap. Optimized and skipped records are never
// revisited.
//
// nextOffset is the catalog offset after the last examined entry, for
// resuming the walk; it is -1 once the catalog is exhausted.
func (s *Store) ListPending(ctx context.Context, limit, offset int) (assets []catalog.Asset, nextOffset int, err error) {
	start := time.Now()
	defer func() { recordQuery("list_pending", start, err) }()

	if limit <= 0 {
		return nil, offset, nil
	}
	if offset < 0 {
		offset = 0
	}

	for len(assets) < limit {
		page, listErr := s.catalog.List(ctx, offset, catalogPageSize)
		if listErr != nil {
			err = fmt.Errorf("listing catalog at offset %d: %w", offset, listErr)
			return nil, offset, err
		}
		if len(page) == 0 {
			return assets, -1, nil
		}

		pending, filterErr := s.filterPending(ctx, page)
		if filterErr != nil {
			err = filterErr
			return nil, offset, err
		}

		for i := range pending {
			assets = append(assets, pending[i])
			if len(assets) == limit {
				// Resume after the last examined catalog entry, not
				// the last pending one, so completed assets are not
				// re-walked next chunk.
				return assets, offset + indexOf(page, pending[i].ID) + 1, nil
			}
		}
		offset += len(page)
	}
	return assets, offset, nil
}

func indexOf(page []catalog.Asset, id string) int {
	for i := range page {
		if page[i].ID == id {
			return i
		}
	}
	return len(page) - 1
}

// filterPending drops assets whose records make them ineligible.
func (s *Store) filterPending(ctx context.Context, page []catalog.Asset) ([]catalog.Asset, error) {
	qCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	ids := make([]any, len(page))
	placeholders := make([]string, len(page))
	for i := range page {
		ids[i] = page[i].ID
		placeholders[i] = "?"
	}

	query := `SELECT asset_id, status, attempts FROM conversions WHERE asset_id IN (` +
		strings.Join(placeholders, ",") + `)`
	rows, err := s.db.QueryContext(qCtx, query, ids...)
	if err != nil {
		return nil, fmt.Errorf("querying statuses: %w", err)
	}
	defer rows.Close()

	ineligible := make(map[string]bool, len(page))
	for rows.Next() {
		var id, status string
		var attempts int
		if err := rows.Scan(&id, &status, &attempts); err != nil {
			return nil, fmt.Errorf("scanning status row: %w", err)
		}
		switch Status(status) {
		case StatusOptimized, StatusSkipped:
			ineligible[id] = true
		case StatusFailed:
			if attempts >= s.maxAttempts {
				ineligible[id] = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status rows: %w", err)
	}

	var out []catalog.Asset
	for _, a := range page {
		if !ineligible[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

// CountPending walks the whole catalog and counts eligible assets.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_pending", start, err) }()

	var total int64
	offset := 0
	for {
		page, listErr := s.catalog.List(ctx, offset, catalogPageSize)
		if listErr != nil {
			err = fmt.Errorf("listing catalog at offset %d: %w", offset, listErr)
			return 0, err
		}
		if len(page) == 0 {
			return total, nil
		}
		pending, filterErr := s.filterPending(ctx, page)
		if filterErr != nil {
			err = filterErr
			return 0, err
		}
		total += int64(len(pending))
		offset += len(page)
	}
}

// Cursor returns the persisted batch cursor, or 0 when none is stored.
func (s *Store) Cursor(ctx context.Context) (int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_cursor", start, err) }()

	qCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value string
	err = s.db.QueryRowContext(qCtx, `SELECT value FROM metadata WHERE key = ?`, cursorKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying cursor: %w", err)
	}
	cursor, convErr := strconv.Atoi(value)
	if convErr != nil {
		return 0, nil // treat a mangled cursor as a fresh start
	}
	return cursor, nil
}

// SetCursor persists the batch cursor for crash resumability.
func (s *Store) SetCursor(ctx context.Context, cursor int) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_cursor", start, err) }()

	qCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(qCtx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		cursorKey, strconv.Itoa(cursor))
	if err != nil {
		return fmt.Errorf("persisting cursor: %w", err)
	}
	return nil
}

// AggregateStats computes table-wide optimization statistics.
func (s *Store) AggregateStats(ctx context.Context) (AggregateStats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("aggregate_stats", start, err) }()

	qCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	out := AggregateStats{PerFormatCounts: make(map[string]int64)}

	err = s.db.QueryRowContext(qCtx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'optimized' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM conversions`).Scan(&out.TotalOptimized, &out.TotalSkipped, &out.TotalFailed)
	if err != nil {
		return out, fmt.Errorf("querying status counts: %w", err)
	}

	// Savings are measured against each asset's smallest retained
	// candidate, matching what a fully-negotiating client would fetch.
	err = s.db.QueryRowContext(qCtx, `
		SELECT
			COALESCE(SUM(c.original_size - m.min_size), 0),
			COALESCE(AVG((c.original_size - m.min_size) * 100.0 / c.original_size), 0)
		FROM conversions c
		JOIN (SELECT asset_id, MIN(size) AS min_size FROM candidates GROUP BY asset_id) m
			ON m.asset_id = c.asset_id
		WHERE c.status = 'optimized' AND c.original_size > 0`).Scan(&out.BytesSaved, &out.AvgSavingsPct)
	if err != nil {
		return out, fmt.Errorf("querying savings: %w", err)
	}

	rows, qErr := s.db.QueryContext(qCtx, `
		SELECT cand.format, COUNT(*)
		FROM candidates cand
		JOIN conversions c ON c.asset_id = cand.asset_id
		WHERE c.status = 'optimized'
		GROUP BY cand.format`)
	if qErr != nil {
		err = qErr
		return out, fmt.Errorf("querying per-format counts: %w", qErr)
	}
	defer rows.Close()
	for rows.Next() {
		var format string
		var count int64
		if err = rows.Scan(&format, &count); err != nil {
			return out, fmt.Errorf("scanning format count: %w", err)
		}
		out.PerFormatCounts[format] = count
	}
	if err = rows.Err(); err != nil {
		return out, fmt.Errorf("iterating format counts: %w", err)
	}
	return out, nil
}

// GetStats implements metrics.StatsProvider. Errors degrade to zero
// values so the collector loop never stops.
func (s *Store) GetStats() metrics.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	agg, err := s.AggregateStats(ctx)
	if err != nil {
		return metrics.Stats{}
	}
	pending, err := s.CountPending(ctx)
	if err != nil {
		pending = 0
	}
	s.UpdateDBMetrics()
	return metrics.Stats{
		TotalOptimized:  agg.TotalOptimized,
		TotalSkipped:    agg.TotalSkipped,
		TotalFailed:     agg.TotalFailed,
		PendingAssets:   pending,
		BytesSaved:      agg.BytesSaved,
		AvgSavingsPct:   agg.AvgSavingsPct,
		PerFormatCounts: agg.PerFormatCounts,
	}
}
