package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/velibors/extracker/internal/telemetry/tracing"
	"github.com/velibors/extracker/internal/tracker"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed schema.sql
var schema string

// Store keeps each user as a single row, with the exercises embedded
// as an ordered jsonb array. Appending an exercise is one atomic
// row update.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db: db,
	}
}

// CreateSchema creates the user table and the unique username index
// if they are not there yet.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) InsertUser(ctx context.Context, username string) (_ *tracker.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.postgres.insertuser")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	id := uuid.NewString()
	tag, err := s.db.Exec(
		ctx,
		`INSERT INTO tracker_user (id, username, exercises, created_at) VALUES ($1, $2, '[]'::jsonb, $3);`,
		id, username, time.Now(),
	)
	if err != nil {
		// unique violations stay untranslated, the engine inspects them
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, errors.New("unexpected error [no rows affected]")
	}

	span.SetAttributes(attribute.String("user.id", id))

	return &tracker.User{
		ID:        id,
		Username:  username,
		Exercises: []tracker.Exercise{},
	}, nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (_ *tracker.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.postgres.finduserbyusername")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := s.db.Query(
		ctx,
		`SELECT id, username, exercises FROM tracker_user WHERE username = $1 ORDER BY created_at LIMIT 1;`,
		username,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, tracker.ErrUserNotFound
	}

	return rows2user(rows)
}

func (s *Store) FindAllUsers(ctx context.Context) (_ []tracker.UserInfo, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.postgres.findallusers")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := s.db.Query(
		ctx,
		`SELECT id, username FROM tracker_user ORDER BY created_at;`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]tracker.UserInfo, 0)
	for rows.Next() {
		var id, username string
		if err := rows.Scan(&id, &username); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		users = append(users, tracker.UserInfo{
			ID:       id,
			Username: username,
		})
	}

	return users, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (_ *tracker.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.postgres.finduserbyid")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.id", id))

	rows, err := s.db.Query(
		ctx,
		`SELECT id, username, exercises FROM tracker_user WHERE id = $1;`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, tracker.ErrUserNotFound
	}

	return rows2user(rows)
}

func (s *Store) AppendExercise(ctx context.Context, userID string, exercise tracker.Exercise) (_ *tracker.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.postgres.appendexercise")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.id", userID))

	exerciseJson, err := json.Marshal(exercise)
	if err != nil {
		return nil, fmt.Errorf("marshal exercise: %w", err)
	}

	rows, err := s.db.Query(
		ctx,
		`UPDATE tracker_user SET exercises = exercises || $2::jsonb WHERE id = $1 RETURNING id, username, exercises;`,
		userID, exerciseJson,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, tracker.ErrUserNotFound
	}

	return rows2user(rows)
}

func rows2user(rows pgx.Rows) (*tracker.User, error) {
	var id, username string
	var exercisesBytes []byte
	if err := rows.Scan(&id, &username, &exercisesBytes); err != nil {
		return nil, fmt.Errorf("rows scan: %w", err)
	}

	user := &tracker.User{
		ID:        id,
		Username:  username,
		Exercises: []tracker.Exercise{},
	}

	if len(exercisesBytes) > 0 {
		if err := json.Unmarshal(exercisesBytes, &user.Exercises); err != nil {
			return nil, fmt.Errorf("unmarshal exercises for user %s: %w", id, err)
		}
	}
	if user.Exercises == nil {
		user.Exercises = []tracker.Exercise{}
	}

	return user, nil
}
