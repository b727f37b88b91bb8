package database

import (
	"context"
	"time"

	"github.com/dandantas/custodian/internal/lock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SQLLockRepository keeps job locks in the relational store.
//
// Expiry is stored as unix milliseconds taken from the instance clock, so
// cooperating instances need reasonably synchronized clocks.
type SQLLockRepository struct {
	db    *sqlx.DB
	podID string
	now   func() time.Time
}

var _ lock.Service = (*SQLLockRepository)(nil)

// NewSQLLockRepository creates a lock repository owned by podID
func NewSQLLockRepository(db *sqlx.DB, podID string) *SQLLockRepository {
	return &SQLLockRepository{
		db:    db,
		podID: podID,
		now:   time.Now,
	}
}

// Acquire takes over an expired lock row or inserts a new one.
// Returns lock.ErrContention when a live row exists.
func (r *SQLLockRepository) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Handle, error) {
	now := r.now().UTC()
	expiresAt := now.Add(ttl)
	token := uuid.New().String()

	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE job_locks
			SET token = ?, locked_by = ?, locked_at = ?, expires_at = ?
			WHERE name = ? AND expires_at <= ?`),
		token, r.podID, now.UnixMilli(), expiresAt.UnixMilli(), name, now.UnixMilli(),
	)
	if err != nil {
		return lock.Handle{}, errors.Wrap(err, "take over expired lock")
	}
	taken, err := result.RowsAffected()
	if err != nil {
		return lock.Handle{}, errors.Wrap(err, "rows affected")
	}

	if taken == 0 {
		result, err = r.db.ExecContext(ctx,
			r.db.Rebind(`INSERT INTO job_locks (name, token, locked_by, locked_at, expires_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (name) DO NOTHING`),
			name, token, r.podID, now.UnixMilli(), expiresAt.UnixMilli(),
		)
		if err != nil {
			return lock.Handle{}, errors.Wrap(err, "insert lock")
		}
		taken, err = result.RowsAffected()
		if err != nil {
			return lock.Handle{}, errors.Wrap(err, "rows affected")
		}
	}

	if taken == 0 {
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
		ExpiresAt: time.UnixMilli(expiresAt.UnixMilli()).UTC(),
	}, nil
}

// Refresh extends a live lock still owned by the handle's token
func (r *SQLLockRepository) Refresh(ctx context.Context, h lock.Handle, ttl time.Duration) (lock.Handle, error) {
	now := r.now().UTC()
	expiresAt := now.Add(ttl)

	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE job_locks SET expires_at = ?
			WHERE name = ? AND token = ? AND expires_at > ?`),
		expiresAt.UnixMilli(), h.Name, h.Token, now.UnixMilli(),
	)
	if err != nil {
		return lock.Handle{}, errors.Wrap(err, "extend lock")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return lock.Handle{}, errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return lock.Handle{}, lock.ErrNotHeld
	}

	h.ExpiresAt = time.UnixMilli(expiresAt.UnixMilli()).UTC()
	return h, nil
}

// Release deletes the lock row if the handle's token still owns it
func (r *SQLLockRepository) Release(ctx context.Context, h lock.Handle) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM job_locks WHERE name = ? AND token = ?`),
		h.Name, h.Token,
	)
	if err != nil {
		return errors.Wrap(err, "release lock")
	}
	return nil
}

// ReleaseAll deletes every lock row owned by this pod
func (r *SQLLockRepository) ReleaseAll(ctx context.Context) error {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM job_locks WHERE locked_by = ?`),
		r.podID,
	)
	if err != nil {
		return errors.Wrap(err, "release all locks")
	}
	if n, _ := result.RowsAffected(); n > 0 {
		zap.S().Infow("Released all locks during shutdown", "pod_id", r.podID, "count", n)
	}
	return nil
}

// CleanExpiredLocks deletes lock rows whose expiry has passed
func (r *SQLLockRepository) CleanExpiredLocks(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM job_locks WHERE expires_at <= ?`),
		r.now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "clean expired locks")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	if n > 0 {
		zap.S().Infow("Cleaned expired locks", "count", n)
	}
	return n, nil
}
