package lock

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrContention is returned when the lock is held by another live token
	ErrContention = errors.New("lock is held by another holder")

	// ErrNotHeld is returned when a token no longer owns the lock
	ErrNotHeld = errors.New("lock not found or not owned by this token")
)

// Handle represents an exclusively held, named, time-bounded lock
type Handle struct {
	Name      string
	Token     string
	Holder    string
	ExpiresAt time.Time
}

// Expired reports whether the handle's expiry has passed at the given time
func (h Handle) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Service is a named lock store shared by all cooperating instances.
//
// A lock name maps to at most one live, unexpired token at any time. A crashed
// holder's lock is freed by expiry.
type Service interface {
	// Acquire takes the named lock for ttl. It returns ErrContention when the
	// name is currently held by a live token.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error)

	// Refresh extends the expiry of a held lock. It returns ErrNotHeld when
	// the token no longer owns the name.
	Refresh(ctx context.Context, h Handle, ttl time.Duration) (Handle, error)

	// Release frees the lock if the token still owns it. Releasing a lock
	// that expired or was taken over is not an error.
	Release(ctx context.Context, h Handle) error
}

// HolderReleaser is implemented by backends that can release every lock held
// by the current process, typically during graceful shutdown
type HolderReleaser interface {
	ReleaseAll(ctx context.Context) error
}

// ExpiredSweeper is implemented by backends that keep expired lock records
// around until they are cleaned up
type ExpiredSweeper interface {
	CleanExpiredLocks(ctx context.Context) (int64, error)
}

// QualifiedName derives a lock name from a namespaced job identifier, in the
// form {namespace}local
func QualifiedName(namespace, local string) string {
	namespace = strings.TrimSpace(namespace)
	local = strings.TrimSpace(local)
	if namespace == "" {
		return local
	}
	return "{" + namespace + "}" + local
}
