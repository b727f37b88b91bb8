package database

import (
	"context"
	"testing"
	"time"

	"github.com/dandantas/custodian/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLLockContentionAndExpiry(t *testing.T) {
	ctx := context.Background()
	db := openTestSQL(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	a := NewSQLLockRepository(db, "pod-a")
	a.now = clock
	b := NewSQLLockRepository(db, "pod-b")
	b.now = clock

	ha, err := a.Acquire(ctx, "{jobs}crc", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "pod-a", ha.Holder)

	_, err = b.Acquire(ctx, "{jobs}crc", time.Minute)
	assert.ErrorIs(t, err, lock.ErrContention)

	now = now.Add(2 * time.Minute)

	hb, err := b.Acquire(ctx, "{jobs}crc", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, ha.Token, hb.Token)

	// The stale holder can neither extend nor release the new lock
	_, err = a.Refresh(ctx, ha, time.Minute)
	assert.ErrorIs(t, err, lock.ErrNotHeld)
	require.NoError(t, a.Release(ctx, ha))

	_, err = a.Acquire(ctx, "{jobs}crc", time.Minute)
	assert.ErrorIs(t, err, lock.ErrContention)

	require.NoError(t, b.Release(ctx, hb))
	_, err = a.Acquire(ctx, "{jobs}crc", time.Minute)
	require.NoError(t, err)
}

func TestSQLLockRefreshExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	db := openTestSQL(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := NewSQLLockRepository(db, "pod-a")
	repo.now = func() time.Time { return now }

	h, err := repo.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	h, err = repo.Refresh(ctx, h, time.Minute)
	require.NoError(t, err)
	assert.True(t, now.Add(time.Minute).Equal(h.ExpiresAt))

	now = now.Add(30 * time.Second)
	other := NewSQLLockRepository(db, "pod-b")
	other.now = repo.now
	_, err = other.Acquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, lock.ErrContention)
}

func TestSQLLockReleaseAllAndSweep(t *testing.T) {
	ctx := context.Background()
	db := openTestSQL(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	a := NewSQLLockRepository(db, "pod-a")
	a.now = clock
	b := NewSQLLockRepository(db, "pod-b")
	b.now = clock

	_, err := a.Acquire(ctx, "one", time.Minute)
	require.NoError(t, err)
	_, err = a.Acquire(ctx, "two", time.Hour)
	require.NoError(t, err)
	_, err = b.Acquire(ctx, "three", time.Minute)
	require.NoError(t, err)

	require.NoError(t, a.ReleaseAll(ctx))

	_, err = b.Acquire(ctx, "one", time.Minute)
	require.NoError(t, err)
	_, err = b.Acquire(ctx, "two", time.Minute)
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	n, err := b.CleanExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
