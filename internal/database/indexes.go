package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	zap.S().Info("Creating MongoDB indexes")

	if err := createJobRunIndexes(ctx, db); err != nil {
		return err
	}

	if err := createJobLockIndexes(ctx, db); err != nil {
		return err
	}

	zap.S().Info("Successfully created all MongoDB indexes")
	return nil
}

func createJobRunIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionJobRuns)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "correlation_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_correlation_id_unique"),
		},
		{
			Keys: bson.D{
				{Key: "job_name", Value: 1},
				{Key: "started_at", Value: -1},
			},
			Options: options.Index().SetName("idx_job_name_started_at"),
		},
		{
			Keys:    bson.D{{Key: "started_at", Value: -1}},
			Options: options.Index().SetName("idx_started_at"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "started_at", Value: -1},
			},
			Options: options.Index().SetName("idx_status_started_at"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	zap.S().Info("Created job_runs indexes")
	return nil
}

func createJobLockIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionJobLocks)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_expires_at_ttl"),
		},
		{
			Keys:    bson.D{{Key: "locked_by", Value: 1}},
			Options: options.Index().SetName("idx_locked_by"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	zap.S().Info("Created job_locks indexes")
	return nil
}
