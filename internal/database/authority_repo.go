package database

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"regexp"

	"github.com/dandantas/custodian/internal/model"
	"github.com/dandantas/custodian/internal/rules"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// ErrAuthorityNotFound is returned when an authority row does not exist
var ErrAuthorityNotFound = errors.New("authority not found")

var savepointPrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Notifier receives change events for committed writes
type Notifier interface {
	Fire(ctx context.Context, ev rules.Event) bool
}

// AuthorityRepository handles the authorities table
type AuthorityRepository struct {
	db       *sqlx.DB
	notifier Notifier
}

// NewAuthorityRepository creates a new authority repository. notifier may be nil.
func NewAuthorityRepository(db *sqlx.DB, notifier Notifier) *AuthorityRepository {
	return &AuthorityRepository{
		db:       db,
		notifier: notifier,
	}
}

// Create inserts a new authority row
func (r *AuthorityRepository) Create(ctx context.Context, a *model.Authority) error {
	query := r.db.Rebind(`INSERT INTO authorities (id, authority, crc) VALUES (?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, a.ID, a.Name, a.CRC); err != nil {
		return errors.Wrapf(err, "insert authority %d", a.ID)
	}
	return nil
}

// GetByID retrieves an authority row by ID
func (r *AuthorityRepository) GetByID(ctx context.Context, id int64) (*model.Authority, error) {
	return getAuthority(ctx, r.db, id)
}

// ScanAuthorities returns a forward-only, single-pass sequence over all
// authorities ordered by ID. The underlying cursor is closed when iteration
// stops. The first error ends the sequence.
func (r *AuthorityRepository) ScanAuthorities(ctx context.Context) iter.Seq2[model.Authority, error] {
	return func(yield func(model.Authority, error) bool) {
		rows, err := r.db.QueryxContext(ctx, `SELECT id, authority, crc FROM authorities ORDER BY id`)
		if err != nil {
			yield(model.Authority{}, errors.Wrap(err, "query authorities"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var a model.Authority
			if err := rows.StructScan(&a); err != nil {
				yield(model.Authority{}, errors.Wrap(err, "scan authority row"))
				return
			}
			if !yield(a, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Authority{}, errors.Wrap(err, "iterate authorities"))
		}
	}
}

// Begin opens a batch transaction on the authorities table
func (r *AuthorityRepository) Begin(ctx context.Context) (*AuthorityTx, error) {
	var opts *sql.TxOptions
	if r.db.DriverName() == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	tx, err := r.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	return &AuthorityTx{
		tx:         tx,
		notifier:   r.notifier,
		savepoints: make(map[string]int),
	}, nil
}

// AuthorityTx is a batch transaction with nested savepoints
type AuthorityTx struct {
	tx         *sqlx.Tx
	notifier   Notifier
	seq        int
	changed    []int64
	savepoints map[string]int
}

// GetAuthority re-reads an authority inside the transaction.
// It returns nil without error when the row no longer exists.
func (t *AuthorityTx) GetAuthority(ctx context.Context, id int64) (*model.Authority, error) {
	a, err := getAuthority(ctx, t.tx, id)
	if errors.Is(err, ErrAuthorityNotFound) {
		return nil, nil
	}
	return a, err
}

// UpdateCRC writes the checksum of one authority
func (t *AuthorityTx) UpdateCRC(ctx context.Context, id int64, crc int64) error {
	query := t.tx.Rebind(`UPDATE authorities SET crc = ? WHERE id = ?`)
	result, err := t.tx.ExecContext(ctx, query, crc, id)
	if err != nil {
		return errors.Wrapf(err, "update crc of authority %d", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrAuthorityNotFound
	}
	t.changed = append(t.changed, id)
	return nil
}

// CreateSavepoint opens a nested checkpoint and returns its name
func (t *AuthorityTx) CreateSavepoint(ctx context.Context, prefix string) (string, error) {
	if !savepointPrefix.MatchString(prefix) {
		return "", errors.Errorf("invalid savepoint prefix %q", prefix)
	}
	t.seq++
	name := fmt.Sprintf("%s_%d", prefix, t.seq)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return "", errors.Wrapf(err, "create savepoint %s", name)
	}
	t.savepoints[name] = len(t.changed)
	return name, nil
}

// ReleaseSavepoint keeps the work done since the savepoint
func (t *AuthorityTx) ReleaseSavepoint(ctx context.Context, name string) error {
	if _, ok := t.savepoints[name]; !ok {
		return errors.Errorf("unknown savepoint %s", name)
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return errors.Wrapf(err, "release savepoint %s", name)
	}
	delete(t.savepoints, name)
	return nil
}

// RollbackToSavepoint discards the work done since the savepoint and
// releases it. The enclosing transaction stays usable.
func (t *AuthorityTx) RollbackToSavepoint(ctx context.Context, name string) error {
	mark, ok := t.savepoints[name]
	if !ok {
		return errors.Errorf("unknown savepoint %s", name)
	}
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return errors.Wrapf(err, "rollback to savepoint %s", name)
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return errors.Wrapf(err, "release savepoint %s", name)
	}
	t.changed = t.changed[:mark]
	delete(t.savepoints, name)
	return nil
}

// Commit commits the batch and fires change events for the committed writes
func (t *AuthorityTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	if t.notifier != nil {
		for _, id := range t.changed {
			t.notifier.Fire(ctx, rules.Event{Type: rules.EventAuthorityUpdated, ID: id})
		}
	}
	t.changed = nil
	return nil
}

// Rollback aborts the batch. Rolling back a finished transaction is a no-op.
func (t *AuthorityTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "rollback transaction")
	}
	t.changed = nil
	return nil
}

func getAuthority(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.Authority, error) {
	var a model.Authority
	query := sqlx.Rebind(sqlx.BindType(driverName(q)), `SELECT id, authority, crc FROM authorities WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &a, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAuthorityNotFound
		}
		return nil, errors.Wrapf(err, "get authority %d", id)
	}
	return &a, nil
}

func driverName(q sqlx.QueryerContext) string {
	switch v := q.(type) {
	case *sqlx.DB:
		return v.DriverName()
	case *sqlx.Tx:
		return v.DriverName()
	}
	return ""
}
