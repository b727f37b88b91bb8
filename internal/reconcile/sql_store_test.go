package reconcile

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dandantas/custodian/internal/batch"
	"github.com/dandantas/custodian/internal/database"
	"github.com/dandantas/custodian/internal/i18n"
	"github.com/dandantas/custodian/internal/model"
	"github.com/dandantas/custodian/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLStore(t *testing.T, triggers *rules.Service, rows ...model.Authority) (*database.AuthorityRepository, func(string)) {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQL(ctx, database.SQLConfig{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "authorities.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.EnsureSchema(ctx, db))

	repo := database.NewAuthorityRepository(db, triggers)
	for i := range rows {
		require.NoError(t, repo.Create(ctx, &rows[i]))
	}

	exec := func(stmt string) {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return repo, exec
}

func TestSQLStoreRepairsWithSavepoints(t *testing.T) {
	ctx := context.Background()
	triggers := rules.NewService()
	var fired []int64
	triggers.Register(func(_ context.Context, ev rules.Event) { fired = append(fired, ev.ID) })

	repo, exec := openSQLStore(t, triggers,
		row(1, "Alice", ptr(42)),
		row(2, "Bob", nil),
		row(3, "Carol", ptr(Checksum("Carol"))),
		row(4, "Dave", nil),
	)
	exec(`CREATE TRIGGER fail_bob BEFORE UPDATE ON authorities WHEN NEW.id = 2
		BEGIN SELECT RAISE(ABORT, 'bob is read-only'); END`)

	loc, err := i18n.New("en")
	require.NoError(t, err)
	job := NewJob(NewSQLStore(repo), triggers, loc, Config{
		LogDir: t.TempDir(),
		Batch: batch.Options{
			Workers:   2,
			BatchSize: 20,
			Retry:     model.RetryConfig{MaxAttempts: 1},
		},
	})

	report, err := job.Execute(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Failed)

	for id, want := range map[int64]sql.NullInt64{
		1: {Int64: Checksum("Alice"), Valid: true},
		2: {},
		3: {Int64: Checksum("Carol"), Valid: true},
		4: {Int64: Checksum("Dave"), Valid: true},
	} {
		a, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, a.CRC, "authority %d", id)
	}

	// events are dropped while the run has triggers disabled
	assert.Empty(t, fired)
	assert.True(t, triggers.Enabled())

	lines := readAudit(t, report)
	assert.Len(t, lines, 3)
	assert.Contains(t, lines, "Updated CRC value for authority ID 4: Dave: null -> "+formatID(Checksum("Dave")))

	ids, err := Collect(NewScanner(NewSQLStore(repo)).Mismatches(ctx))
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func formatID(v int64) string {
	return model.FormatCRC(sql.NullInt64{Int64: v, Valid: true})
}
