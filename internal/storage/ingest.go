package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dormitricity/orchestrator/pkg/types"
)

// IngestResult summarizes what one ingest batch changed.
type IngestResult struct {
	NewReadings       int
	DuplicateReadings int
	FailuresRecorded  int
	SliceClosed       bool
	JobStatus         types.JobStatus
	JobFinished       bool

	// Distinct hashed_dirs that carried readings in this batch, in first
	// appearance order. The alerting pass is scoped to exactly this set.
	UpdatedDirs []string
}

// IngestBatch folds one crawler batch into durable state as a single
// transaction: readings are insert-or-ignore (duplicates absorbed), the
// cached latest state is upserted with a monotonic guard, failures are
// appended, and a finished batch closes the slice and rolls the job
// status forward. A DONE job is never observable with
// finished_slices < total_slices because the increment and the status
// advance commit together.
func (s *Store) IngestBatch(ctx context.Context, req types.IngestRequest, now int64) (*IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &IngestResult{}
	seen := make(map[string]bool)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range req.Readings {
			res, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO readings (hashed_dir, ts, kwh, ok) VALUES (?, ?, ?, ?)",
				r.HashedDir, r.TS, r.KWH, boolToInt(r.OK))
			if err != nil {
				return fmt.Errorf("failed to insert reading: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				result.NewReadings++
			} else {
				result.DuplicateReadings++
			}

			// The guard keeps replayed or out-of-order batches from moving
			// the cached latest reading backwards. Raw readings above still
			// record everything.
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO dorm_latest (hashed_dir, last_ts, last_kwh) VALUES (?, ?, ?)
				 ON CONFLICT(hashed_dir) DO UPDATE SET last_ts = excluded.last_ts, last_kwh = excluded.last_kwh
				 WHERE excluded.last_ts >= dorm_latest.last_ts`,
				r.HashedDir, r.TS, r.KWH); err != nil {
				return fmt.Errorf("failed to upsert latest state: %w", err)
			}

			if _, err := tx.ExecContext(ctx,
				"UPDATE crawl_targets SET last_crawled_ts = ? WHERE hashed_dir = ?",
				r.TS, r.HashedDir); err != nil {
				return fmt.Errorf("failed to touch target: %w", err)
			}

			if !seen[r.HashedDir] {
				seen[r.HashedDir] = true
				result.UpdatedDirs = append(result.UpdatedDirs, r.HashedDir)
			}
		}

		for _, f := range req.Failures {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO crawl_failures (job_id, hashed_dir, reason, ts) VALUES (?, ?, ?, ?)",
				req.JobID, f.HashedDir, f.Reason, now); err != nil {
				return fmt.Errorf("failed to record failure: %w", err)
			}
			result.FailuresRecorded++
		}

		if req.Finished {
			// The increment is tied to the slice actually transitioning, so
			// a resubmitted finished batch cannot double-count.
			res, err := tx.ExecContext(ctx,
				"UPDATE crawl_slices SET status = 'DONE' WHERE job_id = ? AND slice_index = ? AND status != 'DONE'",
				req.JobID, req.SliceIndex)
			if err != nil {
				return fmt.Errorf("failed to close slice: %w", err)
			}
			changed, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			if changed > 0 {
				result.SliceClosed = true
				if _, err := tx.ExecContext(ctx,
					"UPDATE crawl_jobs SET finished_slices = finished_slices + 1 WHERE id = ?",
					req.JobID); err != nil {
					return fmt.Errorf("failed to increment finished slices: %w", err)
				}
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE crawl_jobs SET status = 'DONE'
				 WHERE id = ? AND status IN ('PENDING', 'RUNNING') AND finished_slices >= total_slices`,
				req.JobID); err != nil {
				return fmt.Errorf("failed to advance job to done: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE crawl_jobs SET status = 'DONE_WITH_ERRORS'
				 WHERE id = ? AND status = 'DONE'
				   AND EXISTS (SELECT 1 FROM crawl_failures WHERE job_id = ?)`,
				req.JobID, req.JobID); err != nil {
				return fmt.Errorf("failed to advance job to done with errors: %w", err)
			}
		}

		var status types.JobStatus
		if err := tx.QueryRowContext(ctx,
			"SELECT status FROM crawl_jobs WHERE id = ?", req.JobID).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Unknown job: roll the whole batch back.
				return ErrJobNotFound
			}
			return fmt.Errorf("failed to read job status: %w", err)
		}
		result.JobStatus = status
		result.JobFinished = status == types.JobDone || status == types.JobDoneWithErrors
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FailureCount returns how many failures a job has accumulated.
func (s *Store) FailureCount(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM crawl_failures WHERE job_id = ?", jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
