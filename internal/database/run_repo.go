package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/custodian/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrRunNotFound is returned when a job run does not exist
var ErrRunNotFound = errors.New("job run not found")

// RunRepository handles job run history operations
type RunRepository struct {
	collection *mongo.Collection
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *MongoDB) *RunRepository {
	return &RunRepository{
		collection: db.GetCollection(CollectionJobRuns),
	}
}

// Create inserts a new job run record
func (r *RunRepository) Create(ctx context.Context, run *model.JobRun) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if run.ID.IsZero() {
		run.ID = primitive.NewObjectID()
	}

	_, err := r.collection.InsertOne(ctxTimeout, run)
	if err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}

	return nil
}

// GetByID retrieves a job run by its hex ID or correlation ID
func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.JobRun, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"correlation_id": id}
	if objID, err := primitive.ObjectIDFromHex(id); err == nil {
		filter = bson.M{"_id": objID}
	}

	var run model.JobRun
	err := r.collection.FindOne(ctxTimeout, filter).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}

	return &run, nil
}

// List retrieves job runs with filtering and pagination
func (r *RunRepository) List(ctx context.Context, filter bson.M, page, limit int) ([]model.JobRun, int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	total, err := r.collection.CountDocuments(ctxTimeout, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count job runs: %w", err)
	}

	skip := (page - 1) * limit
	opts := options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "started_at", Value: -1}})

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var runs []model.JobRun
	if err := cursor.All(ctxTimeout, &runs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode job runs: %w", err)
	}

	return runs, total, nil
}

// UpdateNotification stores the notification delivery record of a run
func (r *RunRepository) UpdateNotification(ctx context.Context, id primitive.ObjectID, notification *model.Notification) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"notification": notification,
		},
	}

	result, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrRunNotFound
	}

	return nil
}
