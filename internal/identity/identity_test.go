package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAsScopesIdentity(t *testing.T) {
	outer := WithUser(context.Background(), "alice")

	got, err := RunAs(outer, SystemUser, func(ctx context.Context) (string, error) {
		assert.True(t, IsSystem(ctx))
		return Current(ctx), nil
	})

	assert.NoError(t, err)
	assert.Equal(t, SystemUser, got)
	assert.Equal(t, "alice", Current(outer))
	assert.False(t, IsSystem(outer))
}

func TestRunAsPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := RunAs(context.Background(), SystemUser, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCurrentWithoutIdentity(t *testing.T) {
	assert.Equal(t, "", Current(context.Background()))
}
