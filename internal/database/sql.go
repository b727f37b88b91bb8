package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// Supported relational drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLConfig holds relational store connection settings
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenSQL connects to the relational store holding the authorities table
func OpenSQL(ctx context.Context, cfg SQLConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, errors.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "connect sql store")
	}

	if cfg.Driver == DriverSQLite {
		// SQLite allows a single writer; serialize through one connection
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sql store")
	}

	zap.S().Infow("Connected to SQL store", "driver", cfg.Driver)

	return db, nil
}

// CloseSQL closes the relational store connection
func CloseSQL(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		zap.S().Errorw("Error closing SQL connection", "error", err)
	} else {
		zap.S().Info("SQL connection closed")
	}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS authorities (
		id BIGINT PRIMARY KEY,
		authority VARCHAR(100) UNIQUE,
		crc BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_authorities_crc ON authorities (crc)`,
	`CREATE TABLE IF NOT EXISTS job_locks (
		name VARCHAR(255) PRIMARY KEY,
		token VARCHAR(64) NOT NULL,
		locked_by VARCHAR(255) NOT NULL,
		locked_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_locks_locked_by ON job_locks (locked_by)`,
}

// EnsureSchema creates the tables used by custodian if they do not exist
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctxTimeout, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}

	zap.S().Info("SQL schema is up to date")
	return nil
}
