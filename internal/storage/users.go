package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrEmailInUse means another account already registered the email.
	ErrEmailInUse = errors.New("email already in use")
	// ErrUserNotFound means no account matches the given id or email.
	ErrUserNotFound = errors.New("user not found")
)

// UserRecord is one account row.
type UserRecord struct {
	ID        string
	Email     string
	PwHash    string
	CreatedTS int64
}

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, u *UserRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, pw_hash, created_ts) VALUES (?, ?, ?, ?)",
		u.ID, u.Email, u.PwHash, u.CreatedTS)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return ErrEmailInUse
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByEmail looks an account up for login.
func (s *Store) UserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	u := &UserRecord{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, pw_hash, created_ts FROM users WHERE email = ?", email).
		Scan(&u.ID, &u.Email, &u.PwHash, &u.CreatedTS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// UserByID looks an account up by id.
func (s *Store) UserByID(ctx context.Context, id string) (*UserRecord, error) {
	u := &UserRecord{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, pw_hash, created_ts FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Email, &u.PwHash, &u.CreatedTS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// DeleteUser removes the account and its subscriptions, disabling any
// target left without subscribers. Reading history is retained. Returns
// the number of subscriptions deleted and targets disabled.
func (s *Store) DeleteUser(ctx context.Context, id string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deletedSubs, disabledTargets := 0, 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT hashed_dir FROM subscriptions WHERE user_id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to list user subscriptions: %w", err)
		}
		var dirs []string
		for rows.Next() {
			var dir string
			if err := rows.Scan(&dir); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan subscription: %w", err)
			}
			dirs = append(dirs, dir)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM subscriptions WHERE user_id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete subscriptions: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deletedSubs = int(n)
		}

		for _, dir := range dirs {
			var remaining int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM subscriptions WHERE hashed_dir = ?", dir).Scan(&remaining); err != nil {
				return fmt.Errorf("failed to count remaining subscribers: %w", err)
			}
			if remaining == 0 {
				if _, err := tx.ExecContext(ctx,
					"UPDATE crawl_targets SET enabled = 0 WHERE hashed_dir = ?", dir); err != nil {
					return fmt.Errorf("failed to disable target: %w", err)
				}
				disabledTargets++
			}
		}

		res, err = tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	return deletedSubs, disabledTargets, err
}
