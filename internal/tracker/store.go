package tracker

import (
	"context"
	"errors"
)

//go:generate mockgen -source=store.go -destination=store_mocks_test.go -package=tracker_test

var ErrUserNotFound = errors.New("user not found")

// Store is the persistence boundary: one document per user, with the
// exercises embedded as an ordered list. AppendExercise is the only
// mutation of an existing document and must be atomic per document.
// Implementations translate their native not-found conditions into
// ErrUserNotFound; everything else propagates unchanged.
type Store interface {
	InsertUser(ctx context.Context, username string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindAllUsers(ctx context.Context) ([]UserInfo, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	AppendExercise(ctx context.Context, userID string, exercise Exercise) (*User, error)
}
