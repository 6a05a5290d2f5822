//go:build integration_test || all_tests

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/velibors/extracker/internal/db"
	"github.com/velibors/extracker/internal/tracker"
	"github.com/velibors/extracker/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deleteAll(ctx context.Context, store *Store) (int64, error) {
	tag, err := store.db.Exec(ctx, `DELETE FROM tracker_user`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func testStoreSetup(t *testing.T) (*Store, func()) {
	t.Helper()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	t.Logf("using postgres host: %s", host)

	dbPool, err := db.NewDBPool(timeoutCtx, db.NewDBPoolParams{
		DBHost:         host,
		DBPort:         "5432",
		DBName:         "extracker",
		TracingEnabled: false,
	})
	require.NoError(t, err)

	store := NewStore(dbPool)
	require.NoError(t, store.CreateSchema(timeoutCtx))

	return store, func() {
		dbPool.Close()
	}
}

func TestStore_BasicFlow(t *testing.T) {
	store, shutdown := testStoreSetup(t)
	defer shutdown()

	ctx := context.Background()
	deleted, err := deleteAll(ctx, store)
	require.NoError(t, err)
	t.Logf("test setup, deleted users: %d", deleted)

	users, err := store.FindAllUsers(ctx)
	require.NoError(t, err)
	require.Empty(t, users)

	alice, err := store.InsertUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.NotEmpty(t, alice.ID)
	assert.Equal(t, "alice", alice.Username)
	assert.Empty(t, alice.Exercises)

	bob, err := store.InsertUser(ctx, "bob")
	require.NoError(t, err)

	users, err = store.FindAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)

	retrieved, err := store.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, retrieved.ID)

	retrieved, err = store.FindUserByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", retrieved.Username)
	assert.NotNil(t, retrieved.Exercises)
	assert.Empty(t, retrieved.Exercises)

	_, err = store.FindUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, tracker.ErrUserNotFound)
	_, err = store.FindUserByID(ctx, "no-such-id")
	assert.ErrorIs(t, err, tracker.ErrUserNotFound)
}

func TestStore_InsertUser_duplicateUsername(t *testing.T) {
	store, shutdown := testStoreSetup(t)
	defer shutdown()

	ctx := context.Background()
	_, err := deleteAll(ctx, store)
	require.NoError(t, err)

	_, err = store.InsertUser(ctx, "alice")
	require.NoError(t, err)

	// the unique index rejects the second insert
	duplicate, err := store.InsertUser(ctx, "alice")
	assert.Nil(t, duplicate)
	assert.True(t, pkg.IsUniqueViolationError(err))
}

func TestStore_AppendExercise(t *testing.T) {
	store, shutdown := testStoreSetup(t)
	defer shutdown()

	ctx := context.Background()
	_, err := deleteAll(ctx, store)
	require.NoError(t, err)

	alice, err := store.InsertUser(ctx, "alice")
	require.NoError(t, err)

	date1, err := tracker.ParseDate("2020-01-01")
	require.NoError(t, err)
	date2, err := tracker.ParseDate("2020-02-01")
	require.NoError(t, err)

	updated, err := store.AppendExercise(ctx, alice.ID, tracker.Exercise{
		Description: "run",
		Duration:    30,
		Date:        date1,
	})
	require.NoError(t, err)
	require.Len(t, updated.Exercises, 1)

	updated, err = store.AppendExercise(ctx, alice.ID, tracker.Exercise{
		Description: "swim",
		Duration:    20,
		Date:        date2,
	})
	require.NoError(t, err)
	require.Len(t, updated.Exercises, 2)

	// append order survives the round trip
	retrieved, err := store.FindUserByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, retrieved.Exercises, 2)
	assert.Equal(t, "run", retrieved.Exercises[0].Description)
	assert.Equal(t, "2020-01-01", retrieved.Exercises[0].Date.String())
	assert.Equal(t, "swim", retrieved.Exercises[1].Description)
	assert.Equal(t, 20, retrieved.Exercises[1].Duration)

	_, err = store.AppendExercise(ctx, "no-such-id", tracker.Exercise{Description: "bike"})
	assert.ErrorIs(t, err, tracker.ErrUserNotFound)
}
