package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dandantas/custodian/internal/lock"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const redisLockPrefix = "custodian:lock:"

// Compare-and-delete: only the owning token may release
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Compare-and-expire: only the owning token may extend
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ConnectRedis creates a Redis client and verifies the connection
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	zap.S().Infow("Connected to Redis", "addr", cfg.Addr)
	return client, nil
}

// RedisLockRepository keeps job locks as expiring Redis keys
type RedisLockRepository struct {
	client *redis.Client
	podID  string

	mu   sync.Mutex
	held map[string]lock.Handle
}

var _ lock.Service = (*RedisLockRepository)(nil)

// NewRedisLockRepository creates a lock repository owned by podID
func NewRedisLockRepository(client *redis.Client, podID string) *RedisLockRepository {
	return &RedisLockRepository{
		client: client,
		podID:  podID,
		held:   make(map[string]lock.Handle),
	}
}

// Acquire sets the lock key if absent. Redis expires the key after ttl.
func (r *RedisLockRepository) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Handle, error) {
	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, redisLockPrefix+name, token, ttl).Result()
	if err != nil {
		return lock.Handle{}, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return lock.Handle{}, lock.ErrContention
	}

	h := lock.Handle{
		Name:      name,
		Token:     token,
		Holder:    r.podID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	r.mu.Lock()
	r.held[name] = h
	r.mu.Unlock()

	zap.S().Debugw("Successfully acquired lock", "lock_name", name, "pod_id", r.podID)
	return h, nil
}

// Refresh extends the key expiry if the token still owns it
func (r *RedisLockRepository) Refresh(ctx context.Context, h lock.Handle, ttl time.Duration) (lock.Handle, error) {
	n, err := refreshScript.Run(ctx, r.client, []string{redisLockPrefix + h.Name}, h.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return lock.Handle{}, fmt.Errorf("failed to extend lock: %w", err)
	}
	if n == 0 {
		return lock.Handle{}, lock.ErrNotHeld
	}

	h.ExpiresAt = time.Now().UTC().Add(ttl)
	return h, nil
}

// Release deletes the key if the token still owns it
func (r *RedisLockRepository) Release(ctx context.Context, h lock.Handle) error {
	r.mu.Lock()
	if current, ok := r.held[h.Name]; ok && current.Token == h.Token {
		delete(r.held, h.Name)
	}
	r.mu.Unlock()

	if err := releaseScript.Run(ctx, r.client, []string{redisLockPrefix + h.Name}, h.Token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// ReleaseAll releases every lock this process acquired and still tracks
func (r *RedisLockRepository) ReleaseAll(ctx context.Context) error {
	r.mu.Lock()
	handles := make([]lock.Handle, 0, len(r.held))
	for _, h := range r.held {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := r.Release(ctx, h); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(handles) > 0 {
		zap.S().Infow("Released all locks during shutdown", "pod_id", r.podID, "count", len(handles))
	}
	return firstErr
}
