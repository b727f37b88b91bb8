package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, LockBackendMongo, cfg.LockBackend)
	assert.Equal(t, "fixAuthoritiesCrcValues", cfg.CRCJobName)
	assert.Equal(t, 30*time.Minute, cfg.CRCJobLockTTL)
	assert.Equal(t, 2, cfg.CRCJobWorkers)
	assert.Equal(t, 20, cfg.CRCJobBatchSize)
	assert.Equal(t, 1000, cfg.CRCJobLoggingInterval)
	assert.Equal(t, "en", cfg.Locale)
	assert.NotEmpty(t, cfg.AuditLogDir)
	assert.Equal(t, uint64(20), cfg.MongoMaxPoolSize)
	assert.Equal(t, uint64(2), cfg.MongoMinPoolSize)
	assert.Equal(t, []string{"snappy"}, cfg.MongoCompressors)
}

func TestLoadMongoPoolSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MONGO_MAX_POOL_SIZE", "50")
	t.Setenv("MONGO_MIN_POOL_SIZE", "5")
	t.Setenv("MONGO_MAX_CONN_IDLE_TIME", "2m")
	t.Setenv("MONGO_COMPRESSORS", "zstd, snappy,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), cfg.MongoMaxPoolSize)
	assert.Equal(t, uint64(5), cfg.MongoMinPoolSize)
	assert.Equal(t, 2*time.Minute, cfg.MongoMaxConnIdleTime)
	assert.Equal(t, []string{"zstd", "snappy"}, cfg.MongoCompressors)

	t.Setenv("MONGO_MIN_POOL_SIZE", "80")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_MIN_POOL_SIZE")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "/tmp/custodian.db")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("CRC_JOB_LOCK_TTL", "90s")
	t.Setenv("CRC_JOB_WORKERS", "4")
	t.Setenv("LOCALE", "de")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, LockBackendRedis, cfg.LockBackend)
	assert.Equal(t, 90*time.Second, cfg.CRCJobLockTTL)
	assert.Equal(t, 4, cfg.CRCJobWorkers)
	assert.Equal(t, "de", cfg.Locale)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "oracle")
	t.Setenv("LOCK_BACKEND", "zookeeper")
	t.Setenv("CRC_JOB_BATCH_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
	assert.Contains(t, err.Error(), "LOCK_BACKEND")
	assert.Contains(t, err.Error(), "CRC_JOB_BATCH_SIZE")
}

func TestInitLogger(t *testing.T) {
	logger, err := InitLogger(&Config{LogLevel: "debug", LogFormat: "text"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))
}
