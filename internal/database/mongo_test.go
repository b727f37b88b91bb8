package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptionsFromConfig(t *testing.T) {
	opts := clientOptions(MongoConfig{
		URI:             "mongodb://localhost:27017",
		Timeout:         3 * time.Second,
		MaxPoolSize:     8,
		MinPoolSize:     2,
		MaxConnIdleTime: time.Minute,
		Compressors:     []string{"zstd"},
	})

	require.NotNil(t, opts.MaxPoolSize)
	assert.Equal(t, uint64(8), *opts.MaxPoolSize)
	require.NotNil(t, opts.MinPoolSize)
	assert.Equal(t, uint64(2), *opts.MinPoolSize)
	require.NotNil(t, opts.MaxConnIdleTime)
	assert.Equal(t, time.Minute, *opts.MaxConnIdleTime)
	require.NotNil(t, opts.ServerSelectionTimeout)
	assert.Equal(t, 3*time.Second, *opts.ServerSelectionTimeout)
	assert.Equal(t, []string{"zstd"}, opts.Compressors)
	require.NotNil(t, opts.RetryWrites)
	assert.True(t, *opts.RetryWrites)
}

func TestClientOptionsKeepsDriverDefaults(t *testing.T) {
	opts := clientOptions(MongoConfig{URI: "mongodb://localhost:27017"})

	assert.Nil(t, opts.MaxPoolSize)
	assert.Nil(t, opts.MinPoolSize)
	assert.Nil(t, opts.MaxConnIdleTime)
	assert.Empty(t, opts.Compressors)
}

func TestClientOptionsCapsMinPoolAtMax(t *testing.T) {
	opts := clientOptions(MongoConfig{URI: "mongodb://localhost:27017", MaxPoolSize: 4, MinPoolSize: 10})

	require.NotNil(t, opts.MinPoolSize)
	assert.Equal(t, uint64(4), *opts.MinPoolSize)
}
