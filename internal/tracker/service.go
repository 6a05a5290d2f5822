package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/velibors/extracker/internal/telemetry/tracing"
	"github.com/velibors/extracker/pkg"

	"go.opentelemetry.io/otel/attribute"
)

const missingUserIDMessage = "Must include a user ID in the query string. Example: '/api/exercise/log?userId={userId}'"

// ErrMissingUserID is returned by GetLog before any store call when the
// user id is absent. Its text is part of the API contract.
var ErrMissingUserID = errors.New(missingUserIDMessage)

func ConflictMessage(username string) string {
	return fmt.Sprintf("User <%s> already exists.", username)
}

// CreateUserResult carries either the created user info or, when the
// username is taken, a conflict message. A conflict is a regular
// response here, not an error - clients of the original API depend on
// getting the message with a success status.
type CreateUserResult struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (r *CreateUserResult) Conflict() bool {
	return r.Message != ""
}

type AddExerciseParams struct {
	Description string
	Duration    int
	// Date nil means "now" (server clock)
	Date *Date
}

// LogQuery models from/to/limit as tri-state optional values. Which of
// them are set decides the GetLog branch, see GetLog.
type LogQuery struct {
	UserID string
	From   *Date
	To     *Date
	Limit  *int
}

func (q LogQuery) filtered() bool {
	return q.From != nil || q.To != nil || q.Limit != nil
}

// Log is a GetLog result. ID is set only for unfiltered queries; the
// filtered response of the original API drops it, and that asymmetry
// is kept on purpose.
type Log struct {
	ID        string     `json:"id,omitempty"`
	Username  string     `json:"username"`
	Exercises []Exercise `json:"exercises"`
}

// Service owns the user/exercise rules. It keeps no state of its own -
// every call goes straight to the store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
	}
}

// CreateUser inserts a new user unless the username is already taken,
// in which case the conflict message is returned instead. The
// look-then-insert below is not atomic against concurrent identical
// requests; the postgres store closes that hole with a unique index,
// and a synchronous collision gets translated into the same conflict
// response.
func (s *Service) CreateUser(ctx context.Context, username string) (_ *CreateUserResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.createuser")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("username", username))

	existing, err := s.store.FindUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	if existing != nil {
		return &CreateUserResult{Message: ConflictMessage(username)}, nil
	}

	user, err := s.store.InsertUser(ctx, username)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return &CreateUserResult{Message: ConflictMessage(username)}, nil
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &CreateUserResult{
		ID:       user.ID,
		Username: user.Username,
	}, nil
}

// ListUsers returns all users as {id, username}, in store order.
func (s *Service) ListUsers(ctx context.Context) (_ []UserInfo, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.listusers")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	users, err := s.store.FindAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("find all users: %w", err)
	}
	if users == nil {
		users = []UserInfo{}
	}
	return users, nil
}

// AddExercise appends one exercise to the user and returns the full
// updated user. A nil date defaults to the current date.
func (s *Service) AddExercise(ctx context.Context, userID string, params AddExerciseParams) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.addexercise")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.id", userID))

	date := NewDate(time.Now())
	if params.Date != nil {
		date = *params.Date
	}

	user, err := s.store.AppendExercise(ctx, userID, Exercise{
		Description: params.Description,
		Duration:    params.Duration,
		Date:        date,
	})
	if err != nil {
		return nil, fmt.Errorf("append exercise: %w", err)
	}
	return user, nil
}

// GetLog returns a user's exercise log.
//
// With no filters at all, the full user document comes back unchanged.
// With any of from/to/limit present, exercises are filtered by date and
// then truncated to limit. The date bounds are strictly EXCLUSIVE on
// both ends: an exercise dated exactly from or exactly to is dropped.
// Insertion order is preserved, never re-sorted.
func (s *Service) GetLog(ctx context.Context, query LogQuery) (_ *Log, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.getlog")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if query.UserID == "" {
		return nil, ErrMissingUserID
	}
	span.SetAttributes(attribute.String("user.id", query.UserID))

	user, err := s.store.FindUserByID(ctx, query.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}

	if !query.filtered() {
		return &Log{
			ID:        user.ID,
			Username:  user.Username,
			Exercises: user.Exercises,
		}, nil
	}

	filtered := make([]Exercise, 0, len(user.Exercises))
	for _, e := range user.Exercises {
		switch {
		case query.From != nil && query.To != nil:
			if e.Date.After(query.From.Time) && e.Date.Before(query.To.Time) {
				filtered = append(filtered, e)
			}
		case query.From != nil:
			if e.Date.After(query.From.Time) {
				filtered = append(filtered, e)
			}
		case query.To != nil:
			if e.Date.Before(query.To.Time) {
				filtered = append(filtered, e)
			}
		default:
			// only limit given
			filtered = append(filtered, e)
		}
	}

	if query.Limit != nil && *query.Limit < len(filtered) {
		filtered = filtered[:*query.Limit]
	}

	// no ID in the filtered response, see Log
	return &Log{
		Username:  user.Username,
		Exercises: filtered,
	}, nil
}
