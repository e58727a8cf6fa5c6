package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dormitricity/orchestrator/pkg/types"
)

var (
	// ErrMaxSubs means the user already holds the maximum number of
	// concurrent subscriptions.
	ErrMaxSubs = errors.New("max subscriptions reached")
	// ErrAlreadySubscribed means the (user, location) pair already exists.
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrSubNotFound means the user holds no subscription for the location.
	ErrSubNotFound = errors.New("subscription not found")
)

const subSelect = `
	SELECT s.user_id, s.hashed_dir, s.canonical_id, s.created_ts,
	       s.notify_channel, COALESCE(s.notify_token, ''),
	       s.threshold_kwh, s.within_hours, s.cooldown_sec, s.last_alert_ts,
	       l.last_ts, l.last_kwh, l.last_kw, l.r2
	FROM subscriptions s
	LEFT JOIN dorm_latest l ON l.hashed_dir = s.hashed_dir`

// InsertSubscription creates a subscription, enforcing the per-user cap
// inside the transaction so concurrent creates cannot exceed it.
func (s *Store) InsertSubscription(ctx context.Context, userID, hashedDir, canonicalID string, createdTS int64, maxPerUser int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM subscriptions WHERE user_id = ?", userID).Scan(&count); err != nil {
			return fmt.Errorf("failed to count subscriptions: %w", err)
		}
		if count >= maxPerUser {
			return ErrMaxSubs
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO subscriptions (user_id, hashed_dir, canonical_id, created_ts) VALUES (?, ?, ?, ?)",
			userID, hashedDir, canonicalID, createdTS)
		if err != nil {
			var se sqlite3.Error
			if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
				return ErrAlreadySubscribed
			}
			return fmt.Errorf("failed to insert subscription: %w", err)
		}
		return nil
	})
}

// SubscriptionsForUser lists a user's subscriptions joined with the cached
// latest reading for each location.
func (s *Store) SubscriptionsForUser(ctx context.Context, userID string) ([]types.Subscription, error) {
	return s.querySubscriptions(ctx, subSelect+" WHERE s.user_id = ? ORDER BY s.created_ts", userID)
}

// SubscriptionsForDir lists every subscription attached to one location.
// This is the alerting engine's input.
func (s *Store) SubscriptionsForDir(ctx context.Context, hashedDir string) ([]types.Subscription, error) {
	return s.querySubscriptions(ctx, subSelect+" WHERE s.hashed_dir = ?", hashedDir)
}

func (s *Store) querySubscriptions(ctx context.Context, query string, arg string) ([]types.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []types.Subscription
	for rows.Next() {
		var sub types.Subscription
		var lastTS sql.NullInt64
		var lastKWH, lastKW, r2 sql.NullFloat64
		if err := rows.Scan(
			&sub.UserID, &sub.HashedDir, &sub.CanonicalID, &sub.CreatedTS,
			&sub.NotifyChan, &sub.NotifyToken,
			&sub.ThresholdKWH, &sub.WithinHours, &sub.CooldownSec, &sub.LastAlertTS,
			&lastTS, &lastKWH, &lastKW, &r2,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		if lastTS.Valid {
			sub.Latest = &types.LatestState{
				HashedDir: sub.HashedDir,
				LastTS:    lastTS.Int64,
				LastKWH:   lastKWH.Float64,
			}
			if lastKW.Valid {
				sub.Latest.LastKW = &lastKW.Float64
			}
			if r2.Valid {
				sub.Latest.R2 = &r2.Float64
			}
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// HasSubscription reports whether the user is subscribed to the location.
func (s *Store) HasSubscription(ctx context.Context, userID, hashedDir string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM subscriptions WHERE user_id = ? AND hashed_dir = ?",
		userID, hashedDir).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	return true, nil
}

// UpdateSubscriptionNotify replaces a subscription's alert rules and
// notification settings.
func (s *Store) UpdateSubscriptionNotify(ctx context.Context, userID, hashedDir string,
	thresholdKWH, withinHours float64, cooldownSec int64,
	channel types.NotifyChannel, token string) error {

	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET threshold_kwh = ?, within_hours = ?, cooldown_sec = ?, notify_channel = ?, notify_token = ?
		 WHERE user_id = ? AND hashed_dir = ?`,
		thresholdKWH, withinHours, cooldownSec, channel, token, userID, hashedDir)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSubNotFound
	}
	return nil
}

// SetLastAlert records that a notification was successfully delivered,
// starting the cooldown window. Failed deliveries never reach this call.
func (s *Store) SetLastAlert(ctx context.Context, userID, hashedDir string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET last_alert_ts = ? WHERE user_id = ? AND hashed_dir = ?",
		ts, userID, hashedDir)
	if err != nil {
		return fmt.Errorf("failed to set last alert: %w", err)
	}
	return nil
}

// DeleteSubscription removes the subscription and, when it was the last
// one for the location, disables the target. History is kept either way.
// Returns whether the target was disabled.
func (s *Store) DeleteSubscription(ctx context.Context, userID, hashedDir string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	disabled := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM subscriptions WHERE user_id = ? AND hashed_dir = ?",
			userID, hashedDir)
		if err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrSubNotFound
		}

		var remaining int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM subscriptions WHERE hashed_dir = ?", hashedDir).Scan(&remaining); err != nil {
			return fmt.Errorf("failed to count remaining subscribers: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE crawl_targets SET enabled = 0 WHERE hashed_dir = ?", hashedDir); err != nil {
				return fmt.Errorf("failed to disable target: %w", err)
			}
			disabled = true
		}
		return nil
	})
	return disabled, err
}
