package storage

import (
	"context"
	"fmt"

	"github.com/dormitricity/orchestrator/pkg/types"
)

// EnabledTargets returns every target currently enabled for crawling.
func (s *Store) EnabledTargets(ctx context.Context) ([]types.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT hashed_dir, canonical_id FROM crawl_targets WHERE enabled = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled targets: %w", err)
	}
	defer rows.Close()

	var targets []types.Target
	for rows.Next() {
		var t types.Target
		if err := rows.Scan(&t.HashedDir, &t.CanonicalID); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// EnsureTargetEnabled inserts the target if unknown, or re-enables it if a
// previous unsubscribe disabled it. Reading history is never touched.
func (s *Store) EnsureTargetEnabled(ctx context.Context, hashedDir, canonicalID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_targets (hashed_dir, canonical_id, enabled) VALUES (?, ?, 1)
		 ON CONFLICT(hashed_dir) DO UPDATE SET enabled = 1`,
		hashedDir, canonicalID)
	if err != nil {
		return fmt.Errorf("failed to ensure target: %w", err)
	}
	return nil
}

// TargetEnabled reports whether the target exists and is enabled.
func (s *Store) TargetEnabled(ctx context.Context, hashedDir string) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx,
		"SELECT enabled FROM crawl_targets WHERE hashed_dir = ?", hashedDir).Scan(&enabled)
	if err != nil {
		return false, err
	}
	return enabled == 1, nil
}
