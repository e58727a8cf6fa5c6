package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dormitricity/orchestrator/pkg/types"
)

// Series returns readings for one location with ts > since, oldest first,
// capped at limit.
func (s *Store) Series(ctx context.Context, hashedDir string, since int64, limit int) ([]types.SeriesPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, kwh FROM readings WHERE hashed_dir = ? AND ts > ? ORDER BY ts ASC LIMIT ?",
		hashedDir, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var points []types.SeriesPoint
	for rows.Next() {
		var p types.SeriesPoint
		if err := rows.Scan(&p.TS, &p.KWH); err != nil {
			return nil, fmt.Errorf("failed to scan series point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// RecentSeries returns the estimation window for one location: everything
// within the trailing window before the newest reading, padded back to at
// least minPoints samples when the window is too sparse.
func (s *Store) RecentSeries(ctx context.Context, hashedDir string, window int64, minPoints int) ([]types.SeriesPoint, error) {
	var lastTS sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(ts) FROM readings WHERE hashed_dir = ?", hashedDir).Scan(&lastTS)
	if err != nil {
		return nil, fmt.Errorf("failed to query newest reading: %w", err)
	}
	if !lastTS.Valid {
		return nil, nil
	}

	points, err := s.Series(ctx, hashedDir, lastTS.Int64-window, 5000)
	if err != nil {
		return nil, err
	}
	if len(points) >= minPoints {
		return points, nil
	}

	// Sparse window; fall back to the newest minPoints overall.
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, kwh FROM readings WHERE hashed_dir = ? ORDER BY ts DESC LIMIT ?",
		hashedDir, minPoints)
	if err != nil {
		return nil, fmt.Errorf("failed to query fallback series: %w", err)
	}
	defer rows.Close()

	var desc []types.SeriesPoint
	for rows.Next() {
		var p types.SeriesPoint
		if err := rows.Scan(&p.TS, &p.KWH); err != nil {
			return nil, fmt.Errorf("failed to scan series point: %w", err)
		}
		desc = append(desc, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	asc := make([]types.SeriesPoint, len(desc))
	for i, p := range desc {
		asc[len(desc)-1-i] = p
	}
	return asc, nil
}

// Latest returns the cached latest state for a location, or nil when the
// location has never been ingested.
func (s *Store) Latest(ctx context.Context, hashedDir string) (*types.LatestState, error) {
	state := &types.LatestState{HashedDir: hashedDir}
	var kw, r2 sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_ts, last_kwh, last_kw, r2 FROM dorm_latest WHERE hashed_dir = ?",
		hashedDir).Scan(&state.LastTS, &state.LastKWH, &kw, &r2)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest state: %w", err)
	}
	if kw.Valid {
		state.LastKW = &kw.Float64
	}
	if r2.Valid {
		state.R2 = &r2.Float64
	}
	return state, nil
}

// SetDischargeRate caches the estimated consumption slope for a location.
func (s *Store) SetDischargeRate(ctx context.Context, hashedDir string, kw, r2 float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE dorm_latest SET last_kw = ?, r2 = ? WHERE hashed_dir = ?",
		kw, r2, hashedDir)
	if err != nil {
		return fmt.Errorf("failed to set discharge rate: %w", err)
	}
	return nil
}

// ReadingsSince returns all readings ingested at or after since, ordered by
// location then time. Used by the archive exporter when a job finishes.
func (s *Store) ReadingsSince(ctx context.Context, since int64) ([]types.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT hashed_dir, ts, kwh, ok FROM readings WHERE ts >= ? ORDER BY hashed_dir, ts",
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []types.Reading
	for rows.Next() {
		var r types.Reading
		var ok int
		if err := rows.Scan(&r.HashedDir, &r.TS, &r.KWH, &ok); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.OK = ok == 1
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
