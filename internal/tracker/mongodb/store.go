package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/velibors/extracker/internal/telemetry/tracing"
	"github.com/velibors/extracker/internal/tracker"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
)

const usersCollection = "users"

// Store keeps each user as a single document with the exercise log
// embedded as an ordered array. Appending an exercise is one atomic
// $push on that document.
type Store struct {
	users *mongo.Collection
}

func NewStore(client *mongo.Client, dbName string) *Store {
	return &Store{
		users: client.Database(dbName).Collection(usersCollection),
	}
}

type exerciseDoc struct {
	Description string             `bson:"description"`
	Duration    int                `bson:"duration"`
	Date        primitive.DateTime `bson:"date"`
}

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Username  string             `bson:"username"`
	Exercises []exerciseDoc      `bson:"exercises"`
}

func (d userDoc) toUser() *tracker.User {
	user := &tracker.User{
		ID:        d.ID.Hex(),
		Username:  d.Username,
		Exercises: make([]tracker.Exercise, 0, len(d.Exercises)),
	}
	for _, e := range d.Exercises {
		user.Exercises = append(user.Exercises, tracker.Exercise{
			Description: e.Description,
			Duration:    e.Duration,
			Date:        tracker.NewDate(e.Date.Time()),
		})
	}
	return user
}

func exercise2doc(e tracker.Exercise) exerciseDoc {
	return exerciseDoc{
		Description: e.Description,
		Duration:    e.Duration,
		Date:        primitive.NewDateTimeFromTime(e.Date.Time),
	}
}

// CreateIndexes makes usernames unique at the collection level.
func (s *Store) CreateIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create username index: %w", err)
	}
	return nil
}

func (s *Store) InsertUser(ctx context.Context, username string) (_ *tracker.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.mongo.insertuser")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	res, err := s.users.InsertOne(ctx, userDoc{
		Username:  username,
		Exercises: []exerciseDoc{},
	})
	if err != nil {
		// duplicate key errors stay untranslated, the engine inspects them
		return nil, err
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id type: %T", res.InsertedID)
	}

	span.SetAttributes(attribute.String("user.id", id.Hex()))

	return &tracker.User{
		ID:        id.Hex(),
		Username:  username,
		Exercises: []tracker.Exercise{},
	}, nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (_ *tracker.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.mongo.finduserbyusername")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, tracker.ErrUserNotFound
		}
		return nil, err
	}

	return doc.toUser(), nil
}

func (s *Store) FindAllUsers(ctx context.Context) (_ []tracker.UserInfo, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.mongo.findallusers")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	cursor, err := s.users.Find(
		ctx,
		bson.M{},
		options.Find().SetProjection(bson.M{"username": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, cursor.Close(ctx))
	}()

	users := make([]tracker.UserInfo, 0)
	for cursor.Next(ctx) {
		var doc userDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, tracker.UserInfo{
			ID:       doc.ID.Hex(),
			Username: doc.Username,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (_ *tracker.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.mongo.finduserbyid")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.id", id))

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// a malformed id can never match a stored user
		return nil, tracker.ErrUserNotFound
	}

	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, tracker.ErrUserNotFound
		}
		return nil, err
	}

	return doc.toUser(), nil
}

func (s *Store) AppendExercise(ctx context.Context, userID string, exercise tracker.Exercise) (_ *tracker.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.mongo.appendexercise")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.id", userID))

	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, tracker.ErrUserNotFound
	}

	var doc userDoc
	err = s.users.FindOneAndUpdate(
		ctx,
		bson.M{"_id": objectID},
		bson.M{"$push": bson.M{"exercises": exercise2doc(exercise)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, tracker.ErrUserNotFound
		}
		return nil, err
	}

	return doc.toUser(), nil
}
