package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func openTestSQL(t *testing.T) *sqlx.DB {
	t.Helper()

	ctx := context.Background()
	db, err := OpenSQL(ctx, SQLConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "custodian.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, EnsureSchema(ctx, db))
	return db
}
