package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/custodian/internal/lock"
	"github.com/dandantas/custodian/internal/model"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// LockRepository handles distributed job locks stored in MongoDB
type LockRepository struct {
	collection *mongo.Collection
	podID      string
}

var _ lock.Service = (*LockRepository)(nil)

// NewLockRepository creates a new lock repository owned by podID
func NewLockRepository(db *MongoDB, podID string) *LockRepository {
	return &LockRepository{
		collection: db.GetCollection(CollectionJobLocks),
		podID:      podID,
	}
}

// Acquire attempts to take the named lock.
// Returns lock.ErrContention if it's already held by a live token.
// Uses MongoDB's FindOneAndUpdate with upsert for atomic lock acquisition.
func (r *LockRepository) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Handle, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	token := uuid.New().String()

	// Filter: Either no lock exists for this name, or the existing lock has expired
	filter := bson.M{
		"_id": name,
		"$or": []bson.M{
			{"expires_at": bson.M{"$lte": now}},
			{"expires_at": bson.M{"$exists": false}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"token":      token,
			"locked_by":  r.podID,
			"locked_at":  now,
			"expires_at": expiresAt,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result model.JobLock
	err := r.collection.FindOneAndUpdate(ctxTimeout, filter, update, opts).Decode(&result)
	if err != nil {
		// A live lock makes the filter miss, and the upsert then collides on _id
		if errors.Is(err, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(err) {
			return lock.Handle{}, lock.ErrContention
		}
		return lock.Handle{}, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if result.Token != token {
		return lock.Handle{}, lock.ErrContention
	}

	zap.S().Debugw("Successfully acquired lock",
		"lock_name", name,
		"pod_id", r.podID,
		"expires_at", expiresAt,
	)

	return lock.Handle{
		Name:      name,
		Token:     token,
		Holder:    r.podID,
		ExpiresAt: expiresAt,
	}, nil
}

// Release releases a lock, but only if it's still owned by the handle's token.
// This prevents a pod from releasing a lock another pod took over after expiry.
func (r *LockRepository) Release(ctx context.Context, h lock.Handle) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"_id":   h.Name,
		"token": h.Token,
	}

	result, err := r.collection.DeleteOne(ctxTimeout, filter)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if result.DeletedCount > 0 {
		zap.S().Debugw("Successfully released lock",
			"lock_name", h.Name,
			"pod_id", r.podID,
		)
	}

	return nil
}

// ReleaseAll releases all locks owned by this pod.
// This is typically called during graceful shutdown.
func (r *LockRepository) ReleaseAll(ctx context.Context) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"locked_by": r.podID,
	}

	result, err := r.collection.DeleteMany(ctxTimeout, filter)
	if err != nil {
		return fmt.Errorf("failed to release all locks: %w", err)
	}

	if result.DeletedCount > 0 {
		zap.S().Infow("Released all locks during shutdown",
			"pod_id", r.podID,
			"count", result.DeletedCount,
		)
	}

	return nil
}

// CleanExpiredLocks removes all locks that have expired.
// The TTL index does the same lazily; this covers pods that crashed
// without releasing their locks between TTL monitor passes.
func (r *LockRepository) CleanExpiredLocks(ctx context.Context) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{
		"expires_at": bson.M{"$lte": now},
	}

	result, err := r.collection.DeleteMany(ctxTimeout, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired locks: %w", err)
	}

	if result.DeletedCount > 0 {
		zap.S().Infow("Cleaned expired locks",
			"count", result.DeletedCount,
		)
	}

	return result.DeletedCount, nil
}

// Refresh extends the expiration time of a lock still owned by the handle's token.
// Used to keep long-running jobs exclusive.
func (r *LockRepository) Refresh(ctx context.Context, h lock.Handle, ttl time.Duration) (lock.Handle, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	filter := bson.M{
		"_id":        h.Name,
		"token":      h.Token,
		"expires_at": bson.M{"$gt": now},
	}

	update := bson.M{
		"$set": bson.M{
			"expires_at": expiresAt,
		},
	}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return lock.Handle{}, fmt.Errorf("failed to extend lock: %w", err)
	}

	if result.MatchedCount == 0 {
		return lock.Handle{}, lock.ErrNotHeld
	}

	zap.S().Debugw("Successfully extended lock",
		"lock_name", h.Name,
		"pod_id", r.podID,
		"new_expires_at", expiresAt,
	)

	h.ExpiresAt = expiresAt
	return h, nil
}
