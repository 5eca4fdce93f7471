package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult contains statistics about a cleanup operation.
type CleanupResult struct {
	RunsDeleted       int64
	CategoriesDeleted int64
	ImagesDeleted     int64
	Duration          time.Duration
}

// TotalDeleted is the number of rows removed across tables.
func (r CleanupResult) TotalDeleted() int64 {
	return r.RunsDeleted + r.CategoriesDeleted + r.ImagesDeleted
}

// Cleanup deletes runs that started more than retentionDays ago, with their
// category and image rows, then VACUUMs. Image files on disk are never touched.
//
// Example:
//
//	result, err := history.Cleanup(ctx, 90)
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return result, errClosed
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retentionDays))

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	// Children first so the result does not depend on the foreign_keys pragma.
	steps := []struct {
		table string
		query string
		count *int64
	}{
		{"generated_images", `DELETE FROM generated_images WHERE run_id IN (SELECT id FROM campaign_runs WHERE started_at < ?)`, &result.ImagesDeleted},
		{"category_results", `DELETE FROM category_results WHERE run_id IN (SELECT id FROM campaign_runs WHERE started_at < ?)`, &result.CategoriesDeleted},
		{"campaign_runs", `DELETE FROM campaign_runs WHERE started_at < ?`, &result.RunsDeleted},
	}
	for _, step := range steps {
		res, err := tx.ExecContext(ctx, step.query, cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to delete from %s: %w", step.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("failed to get rows affected for %s: %w", step.table, err)
		}
		*step.count = n
	}

	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if result.TotalDeleted() > 0 {
		// VACUUM cannot run inside a transaction. A failure here leaves the
		// deletes committed.
		if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("cleanup succeeded but VACUUM failed: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}
