package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &UserRecord{ID: "user-1", Email: "a@example.com", PwHash: "hash", CreatedTS: time.Now().Unix()}
	require.NoError(t, store.CreateUser(ctx, u))

	err := store.CreateUser(ctx, &UserRecord{ID: "user-2", Email: "a@example.com", PwHash: "other", CreatedTS: time.Now().Unix()})
	assert.ErrorIs(t, err, ErrEmailInUse)

	got, err := store.UserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)

	got, err = store.UserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
}

func TestUserNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = store.UserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteUser_CascadesAndDisables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Unix()

	require.NoError(t, store.CreateUser(ctx, &UserRecord{ID: "user-1", Email: "a@example.com", PwHash: "h", CreatedTS: now}))
	require.NoError(t, store.EnsureTargetEnabled(ctx, "hashA", "campus:1:2:301"))
	require.NoError(t, store.EnsureTargetEnabled(ctx, "hashB", "campus:1:2:302"))
	require.NoError(t, store.InsertSubscription(ctx, "user-1", "hashA", "campus:1:2:301", now, 10))
	require.NoError(t, store.InsertSubscription(ctx, "user-1", "hashB", "campus:1:2:302", now, 10))
	// Second subscriber keeps hashB alive after the delete.
	require.NoError(t, store.InsertSubscription(ctx, "user-2", "hashB", "campus:1:2:302", now, 10))

	deleted, disabled, err := store.DeleteUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, disabled)

	enabledA, err := store.TargetEnabled(ctx, "hashA")
	require.NoError(t, err)
	assert.False(t, enabledA)

	enabledB, err := store.TargetEnabled(ctx, "hashB")
	require.NoError(t, err)
	assert.True(t, enabledB)

	_, err = store.UserByID(ctx, "user-1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteUser_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.DeleteUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
