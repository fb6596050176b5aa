// Package mongodb provides a MongoDB-backed task store.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/amassd/internal/persistence"
	"github.com/aristath/amassd/internal/task"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds MongoDB connection settings.
type Config struct {
	URL                    string
	Database               string
	ServerSelectionTimeout int // milliseconds
	MaxPoolSize            int
}

// Store implements persistence.Store using MongoDB as the backend.
type Store struct {
	client *mongo.Client
	tasks  *mongo.Collection
}

var _ persistence.Store = (*Store)(nil)

// document is the stored shape of a task. Seq orders tasks that share a
// created_at value.
type document struct {
	ID           string             `bson:"_id"`
	Seq          primitive.ObjectID `bson:"seq"`
	Domain       string             `bson:"domain"`
	Options      task.Options       `bson:"options"`
	Mode         string             `bson:"mode"`
	Status       string             `bson:"status"`
	CreatedAt    time.Time          `bson:"created_at"`
	StartedAt    *time.Time         `bson:"started_at,omitempty"`
	CompletedAt  *time.Time         `bson:"completed_at,omitempty"`
	Result       []string           `bson:"result,omitempty"`
	ErrorMessage string             `bson:"error_message,omitempty"`
}

// New connects, pings and prepares indexes.
func New(cfg Config) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerSelectionTimeout)*time.Millisecond)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URL).
		SetMaxPoolSize(uint64(cfg.MaxPoolSize)).
		SetServerSelectionTimeout(time.Duration(cfg.ServerSelectionTimeout) * time.Millisecond)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := &Store{
		client: client,
		tasks:  client.Database(cfg.Database).Collection("tasks"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// InsertTask stores a new pending task.
func (s *Store) InsertTask(ctx context.Context, t *task.Task) error {
	_, err := s.tasks.InsertOne(ctx, newDocument(t))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", persistence.ErrTaskExists, t.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// MarkRunning moves a pending task to running.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	return s.transition(ctx, id, task.StatusPending, task.StatusRunning, bson.M{
		"started_at": startedAt.UTC(),
	})
}

// MarkCompleted moves a running task to completed.
func (s *Store) MarkCompleted(ctx context.Context, id string, completedAt time.Time, result []string) error {
	if result == nil {
		result = []string{}
	}
	return s.transition(ctx, id, task.StatusRunning, task.StatusCompleted, bson.M{
		"completed_at": completedAt.UTC(),
		"result":       result,
	})
}

// MarkFailed moves a running task to failed.
func (s *Store) MarkFailed(ctx context.Context, id string, completedAt time.Time, message string) error {
	return s.transition(ctx, id, task.StatusRunning, task.StatusFailed, bson.M{
		"completed_at":  completedAt.UTC(),
		"error_message": message,
	})
}

func (s *Store) transition(ctx context.Context, id string, from, to task.Status, set bson.M) error {
	set["status"] = string(to)

	res, err := s.tasks.UpdateOne(ctx, transitionFilter(id, from), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.tasks.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to query task status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrTaskNotFound, id)
	}
	return fmt.Errorf("%w: task %s is not %s, cannot move to %s", persistence.ErrInvalidTransition, id, from, to)
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var doc document
	err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return doc.toTask(), nil
}

// ListTasks returns all tasks, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return s.find(ctx, bson.M{}, newestFirst())
}

// ListTasksByStatus returns tasks in one state, oldest first.
func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	return s.find(ctx, bson.M{"status": string(status)}, oldestFirst())
}

func (s *Store) find(ctx context.Context, filter bson.M, sort bson.D) ([]*task.Task, error) {
	cursor, err := s.tasks.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer cursor.Close(ctx)

	tasks := []*task.Task{}
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}
		tasks = append(tasks, doc.toTask())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// ClearTasks deletes every task document.
func (s *Store) ClearTasks(ctx context.Context) error {
	if _, err := s.tasks.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func transitionFilter(id string, from task.Status) bson.M {
	return bson.M{"_id": id, "status": string(from)}
}

func newestFirst() bson.D {
	return bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}}
}

func oldestFirst() bson.D {
	return bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}
}

// newDocument builds a pending document; terminal fields are dropped.
func newDocument(t *task.Task) document {
	return document{
		ID:        t.ID,
		Seq:       primitive.NewObjectID(),
		Domain:    t.Domain,
		Options:   t.Options,
		Mode:      string(t.Mode),
		Status:    string(task.StatusPending),
		CreatedAt: t.CreatedAt.UTC(),
	}
}

func (d document) toTask() *task.Task {
	t := &task.Task{
		ID:           d.ID,
		Domain:       d.Domain,
		Options:      d.Options,
		Mode:         task.Mode(d.Mode),
		Status:       task.Status(d.Status),
		CreatedAt:    d.CreatedAt.UTC(),
		Result:       d.Result,
		ErrorMessage: d.ErrorMessage,
	}
	if d.StartedAt != nil {
		ts := d.StartedAt.UTC()
		t.StartedAt = &ts
	}
	if d.CompletedAt != nil {
		ts := d.CompletedAt.UTC()
		t.CompletedAt = &ts
	}
	if t.Status == task.StatusCompleted && t.Result == nil {
		t.Result = []string{}
	}
	return t
}
