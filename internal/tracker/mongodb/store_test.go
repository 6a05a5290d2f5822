//go:build integration_test || all_tests

package mongodb

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
	"go.mongodb.org/mongo-driver/bson"
)

func testStoreSetup(t *testing.T) (*Store, func()) {
	t.Helper()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	t.Logf("using mongo uri: %s", uri)

	client, err := db.NewMongoClient(timeoutCtx, uri)
	require.NoError(t, err)

	store := NewStore(client, "extracker_test")
	require.NoError(t, store.CreateIndexes(timeoutCtx))

	return store, func() {
		if err := client.Disconnect(context.Background()); err != nil {
			t.Logf("mongo disconnect: %s", err)
		}
	}
}

func deleteAll(ctx context.Context, store *Store) (int64, error) {
	res, err := store.users.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
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

	retrieved, err := store.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, retrieved.ID)

	retrieved, err = store.FindUserByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", retrieved.Username)
	assert.NotNil(t, retrieved.Exercises)

	_, err = store.FindUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, tracker.ErrUserNotFound)
	// a malformed hex id can never match a stored user
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

	retrieved, err := store.FindUserByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, retrieved.Exercises, 2)
	assert.Equal(t, "run", retrieved.Exercises[0].Description)
	assert.Equal(t, "2020-01-01", retrieved.Exercises[0].Date.String())
	assert.Equal(t, "swim", retrieved.Exercises[1].Description)
	assert.Equal(t, 20, retrieved.Exercises[1].Duration)

	_, err = store.AppendExercise(ctx, alice.ID+"00", tracker.Exercise{Description: "bike"})
	assert.ErrorIs(t, err, tracker.ErrUserNotFound)
}
