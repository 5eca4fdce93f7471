package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdcampaign/campaign"
	"sdcampaign/logging"
)

var errClosed = errors.New("database connection is closed")

// timeLayout is how timestamps are stored: UTC, sortable as text.
const timeLayout = "2006-01-02 15:04:05.000"

// RunRecord is a row of campaign_runs.
type RunRecord struct {
	ID          string
	Categories  []string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while the run is in progress
	Interrupted bool
	Generated   int
	Target      int
}

// CategoryRecord is a row of category_results.
type CategoryRecord struct {
	RunID         string
	Category      string
	State         campaign.CategoryState
	Skipped       bool
	Target        int
	Generated     int
	Requests      int
	Attempts      int
	Failures      int
	WriteFailures int
	Downgrades    int
	AbandonReason string
	OutputDir     string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Repository records campaign history. It implements campaign.Recorder.
//
// Image rows can be written through an AsyncWriter (EnableAsync); run and
// category rows are always synchronous, and FinishRun drains the queue
// before closing the run.
type Repository struct {
	db     *Database
	logger *logging.Logger

	mu     sync.Mutex
	writer *AsyncWriter[campaign.ImageRecord]
	drain  time.Duration
}

var _ campaign.Recorder = (*Repository)(nil)

// NewRepository creates a Repository over db. A nil logger discards output.
func NewRepository(db *Database, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Repository{db: db, logger: logger.Named("history")}
}

// EnableAsync queues image inserts on a background writer.
func (r *Repository) EnableAsync(config AsyncWriterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer != nil {
		return
	}
	r.writer = NewAsyncWriter(config, r.applyQueued)
	r.drain = config.DrainTimeout
	if r.drain <= 0 {
		r.drain = DefaultDrainTimeout
	}
	r.writer.Start()
}

// Flush waits for queued image inserts and stops the background writer.
// Later writes are synchronous.
func (r *Repository) Flush() {
	r.mu.Lock()
	writer, drain := r.writer, r.drain
	r.writer = nil
	r.mu.Unlock()

	if writer == nil {
		return
	}
	if !writer.Stop(drain) {
		r.logger.Warn("history writer did not drain in time",
			zap.Int("pending", writer.Pending()),
			zap.Duration("timeout", drain))
	}
	if applied, failed := writer.Stats(); failed > 0 {
		r.logger.Warn("some queued image records were lost",
			zap.Int64("applied", applied),
			zap.Int64("failed", failed))
	}
}

// StartRun inserts the run row.
func (r *Repository) StartRun(ctx context.Context, runID string, categories []string, startedAt time.Time) error {
	return r.db.withConn(func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO campaign_runs (id, categories, started_at) VALUES (?, ?, ?)`,
			runID, strings.Join(categories, ","), formatTime(startedAt))
		if err != nil {
			return fmt.Errorf("failed to insert run %s: %w", runID, err)
		}
		return nil
	})
}

// RecordImage inserts an image row, queued when async writes are enabled.
func (r *Repository) RecordImage(ctx context.Context, image campaign.ImageRecord) error {
	r.mu.Lock()
	writer := r.writer
	r.mu.Unlock()

	if writer != nil && writer.Enqueue(image) {
		return nil
	}
	return r.insertImage(ctx, image)
}

func (r *Repository) insertImage(ctx context.Context, image campaign.ImageRecord) error {
	return r.db.withConn(func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO generated_images (
				run_id, category, path, image_index, prompt, seed, attempts, downgraded, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			image.RunID, image.Category, image.Path, image.Index, image.Prompt,
			image.Seed, image.Attempts, image.Downgraded, formatTime(image.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert image %s: %w", image.Path, err)
		}
		return nil
	})
}

func (r *Repository) applyQueued(image campaign.ImageRecord, queuedAt time.Time) error {
	if err := r.insertImage(context.Background(), image); err != nil {
		r.logger.Warn("queued history write failed",
			zap.Duration("queued_for", time.Since(queuedAt)),
			zap.Error(err))
		return err
	}
	return nil
}

// RecordCategory upserts the category result of a run.
func (r *Repository) RecordCategory(ctx context.Context, runID string, p campaign.CategoryProgress) error {
	return r.db.withConn(func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO category_results (
				run_id, category, state, skipped, target, generated, requests, attempts,
				failures, write_failures, downgrades, abandon_reason, output_dir, started_at, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, category) DO UPDATE SET
				state = excluded.state,
				skipped = excluded.skipped,
				target = excluded.target,
				generated = excluded.generated,
				requests = excluded.requests,
				attempts = excluded.attempts,
				failures = excluded.failures,
				write_failures = excluded.write_failures,
				downgrades = excluded.downgrades,
				abandon_reason = excluded.abandon_reason,
				output_dir = excluded.output_dir,
				started_at = excluded.started_at,
				finished_at = excluded.finished_at`,
			runID, p.Name, string(p.State), p.Skipped, p.Target, p.Generated, p.Requests, p.Attempts,
			p.Failures, p.WriteFailures, p.Downgrades, nullString(p.AbandonReason), p.OutputDir,
			nullTime(p.StartedAt), nullTime(p.FinishedAt))
		if err != nil {
			return fmt.Errorf("failed to record category %s: %w", p.Name, err)
		}
		return nil
	})
}

// FinishRun drains queued writes and stores the run totals.
func (r *Repository) FinishRun(ctx context.Context, progress campaign.CampaignProgress) error {
	r.Flush()

	totals := progress.Totals()
	return r.db.withConn(func(conn *sql.DB) error {
		res, err := conn.ExecContext(ctx, `
			UPDATE campaign_runs
			SET finished_at = ?, interrupted = ?, generated = ?, target = ?
			WHERE id = ?`,
			nullTime(progress.FinishedAt), progress.Interrupted, totals.Generated, totals.Target, progress.RunID)
		if err != nil {
			return fmt.Errorf("failed to finish run %s: %w", progress.RunID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("run %s not found", progress.RunID)
		}
		return nil
	})
}

// RecentRuns returns up to limit runs, newest first.
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	var runs []RunRecord
	err := r.db.withConn(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, categories, started_at, finished_at, interrupted, generated, target
			FROM campaign_runs
			ORDER BY started_at DESC
			LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("failed to query runs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				run        RunRecord
				categories string
				started    string
				finished   sql.NullString
			)
			if err := rows.Scan(&run.ID, &categories, &started, &finished,
				&run.Interrupted, &run.Generated, &run.Target); err != nil {
				return fmt.Errorf("failed to scan run: %w", err)
			}
			if categories != "" {
				run.Categories = strings.Split(categories, ",")
			}
			run.StartedAt = parseTime(started)
			run.FinishedAt = parseTime(finished.String)
			runs = append(runs, run)
		}
		return rows.Err()
	})
	return runs, err
}

// CategoryResults returns the category rows of a run in the order they finished.
func (r *Repository) CategoryResults(ctx context.Context, runID string) ([]CategoryRecord, error) {
	var results []CategoryRecord
	err := r.db.withConn(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT run_id, category, state, skipped, target, generated, requests, attempts,
				failures, write_failures, downgrades, abandon_reason, output_dir, started_at, finished_at
			FROM category_results
			WHERE run_id = ?
			ORDER BY id`, runID)
		if err != nil {
			return fmt.Errorf("failed to query category results: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				rec               CategoryRecord
				state             string
				reason            sql.NullString
				started, finished sql.NullString
			)
			if err := rows.Scan(&rec.RunID, &rec.Category, &state, &rec.Skipped, &rec.Target,
				&rec.Generated, &rec.Requests, &rec.Attempts, &rec.Failures, &rec.WriteFailures,
				&rec.Downgrades, &reason, &rec.OutputDir, &started, &finished); err != nil {
				return fmt.Errorf("failed to scan category result: %w", err)
			}
			rec.State = campaign.CategoryState(state)
			rec.AbandonReason = reason.String
			rec.StartedAt = parseTime(started.String)
			rec.FinishedAt = parseTime(finished.String)
			results = append(results, rec)
		}
		return rows.Err()
	})
	return results, err
}

// ImagesForRun returns the image rows of a run in write order.
func (r *Repository) ImagesForRun(ctx context.Context, runID string) ([]campaign.ImageRecord, error) {
	var images []campaign.ImageRecord
	err := r.db.withConn(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT run_id, category, path, image_index, prompt, seed, attempts, downgraded, created_at
			FROM generated_images
			WHERE run_id = ?
			ORDER BY id`, runID)
		if err != nil {
			return fmt.Errorf("failed to query images: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				img     campaign.ImageRecord
				created string
			)
			if err := rows.Scan(&img.RunID, &img.Category, &img.Path, &img.Index, &img.Prompt,
				&img.Seed, &img.Attempts, &img.Downgraded, &created); err != nil {
				return fmt.Errorf("failed to scan image: %w", err)
			}
			img.CreatedAt = parseTime(created)
			images = append(images, img)
		}
		return rows.Err()
	})
	return images, err
}

// CountImages returns how many images were recorded for category across all
// runs. An empty category counts every image.
func (r *Repository) CountImages(ctx context.Context, category string) (int64, error) {
	var count int64
	err := r.db.withConn(func(conn *sql.DB) error {
		query, args := `SELECT COUNT(*) FROM generated_images`, []any{}
		if category != "" {
			query += ` WHERE category = ?`
			args = append(args, category)
		}
		if err := conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return fmt.Errorf("failed to count images: %w", err)
		}
		return nil
	})
	return count, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullString returns nil for empty strings so optional columns stay NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
