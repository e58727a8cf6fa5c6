package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dormitricity/orchestrator/pkg/types"
	"github.com/sirupsen/logrus"
)

// JobRecord is one crawl job row.
type JobRecord struct {
	ID             string
	CreatedTS      int64
	Status         types.JobStatus
	TotalSlices    int
	FinishedSlices int
}

// ClaimedSlice is the result of a successful claim.
type ClaimedSlice struct {
	SliceIndex int
	Targets    []types.Target
}

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// CreateJobWithSlices creates one job row plus one slice row per partition
// in a single transaction. Either everything is created or nothing is.
func (s *Store) CreateJobWithSlices(ctx context.Context, jobID string, createdTS int64, slices [][]types.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO crawl_jobs (id, created_ts, status, total_slices) VALUES (?, ?, 'PENDING', ?)",
			jobID, createdTS, len(slices)); err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		for i, targets := range slices {
			payload, err := json.Marshal(targets)
			if err != nil {
				return fmt.Errorf("failed to encode slice payload: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO crawl_slices (job_id, slice_index, status, payload) VALUES (?, ?, 'PENDING', ?)",
				jobID, i, string(payload)); err != nil {
				return fmt.Errorf("failed to insert slice %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	job := &JobRecord{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_ts, status, total_slices, finished_slices FROM crawl_jobs WHERE id = ?",
		id,
	).Scan(&job.ID, &job.CreatedTS, &job.Status, &job.TotalSlices, &job.FinishedSlices)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

// ClaimSlice atomically hands one PENDING slice of the job to the caller.
// Ownership is decided by the conditional update actually changing a row,
// so concurrent claimants racing on the same slice cannot both win; the
// loser is told there is no work, same as an exhausted job. A nil result
// with nil error means no work.
//
// leaseUntil stamps lease_expires_ts so a reclaim pass can later return
// abandoned slices to PENDING; the deadline itself is advisory.
func (s *Store) ClaimSlice(ctx context.Context, jobID string, leaseUntil int64) (*ClaimedSlice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		idx     int
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT slice_index, payload FROM crawl_slices WHERE job_id = ? AND status = 'PENDING' LIMIT 1",
		jobID).Scan(&idx, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending slice: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE crawl_slices SET status = 'RUNNING', lease_expires_ts = ? WHERE job_id = ? AND slice_index = ? AND status = 'PENDING'",
		leaseUntil, jobID, idx)
	if err != nil {
		return nil, fmt.Errorf("failed to claim slice: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if changed == 0 {
		// Lost the race; treated the same as no work.
		return nil, nil
	}

	// First successful claim moves the job to RUNNING. No-op afterwards.
	if _, err := s.db.ExecContext(ctx,
		"UPDATE crawl_jobs SET status = 'RUNNING' WHERE id = ? AND status = 'PENDING'",
		jobID); err != nil {
		return nil, fmt.Errorf("failed to advance job status: %w", err)
	}

	var targets []types.Target
	if err := json.Unmarshal([]byte(payload), &targets); err != nil {
		return nil, fmt.Errorf("failed to decode slice payload: %w", err)
	}

	return &ClaimedSlice{SliceIndex: idx, Targets: targets}, nil
}

// ReclaimExpiredSlices returns RUNNING slices whose lease expired before
// now to PENDING so another crawler can pick them up. Slices of finished
// jobs are left alone. Returns the number of slices reclaimed.
func (s *Store) ReclaimExpiredSlices(ctx context.Context, now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_slices SET status = 'PENDING', lease_expires_ts = NULL
		 WHERE status = 'RUNNING' AND lease_expires_ts IS NOT NULL AND lease_expires_ts < ?
		   AND job_id IN (SELECT id FROM crawl_jobs WHERE status IN ('PENDING', 'RUNNING'))`,
		now)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim slices: %w", err)
	}
	reclaimed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if reclaimed > 0 {
		logrus.WithField("count", reclaimed).Warn("Reclaimed expired slices")
	}
	return reclaimed, nil
}

// ActiveJobCount returns the number of jobs not yet finished.
func (s *Store) ActiveJobCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM crawl_jobs WHERE status IN ('PENDING', 'RUNNING')").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

// SliceStatus returns the status of one slice, mainly for tests and
// operational queries.
func (s *Store) SliceStatus(ctx context.Context, jobID string, idx int) (types.SliceStatus, error) {
	var status types.SliceStatus
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM crawl_slices WHERE job_id = ? AND slice_index = ?",
		jobID, idx).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("failed to query slice status: %w", err)
	}
	return status, nil
}
