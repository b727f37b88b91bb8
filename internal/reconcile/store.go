package reconcile

import (
	"context"
	"iter"

	"github.com/dandantas/custodian/internal/database"
	"github.com/dandantas/custodian/internal/model"
)

// Store is the authority storage the reconciliation runs against
type Store interface {
	// ScanAuthorities is a forward-only, read-only pass over all authorities
	ScanAuthorities(ctx context.Context) iter.Seq2[model.Authority, error]
	// GetAuthority reads one authority outside any batch transaction
	GetAuthority(ctx context.Context, id int64) (*model.Authority, error)
	// BeginBatch opens the transaction enclosing one batch
	BeginBatch(ctx context.Context) (Tx, error)
}

// Tx is a batch transaction supporting per-item savepoints
type Tx interface {
	GetAuthority(ctx context.Context, id int64) (*model.Authority, error)
	UpdateCRC(ctx context.Context, id int64, crc int64) error
	CreateSavepoint(ctx context.Context, prefix string) (string, error)
	ReleaseSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	Commit(ctx context.Context) error
	Rollback() error
}

// TriggerToggle suspends reactive side effects for the duration of a run
type TriggerToggle interface {
	Disable()
	Enable()
}

type sqlStore struct {
	repo *database.AuthorityRepository
}

// NewSQLStore adapts the relational authority repository
func NewSQLStore(repo *database.AuthorityRepository) Store {
	return &sqlStore{repo: repo}
}

func (s *sqlStore) ScanAuthorities(ctx context.Context) iter.Seq2[model.Authority, error] {
	return s.repo.ScanAuthorities(ctx)
}

func (s *sqlStore) GetAuthority(ctx context.Context, id int64) (*model.Authority, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *sqlStore) BeginBatch(ctx context.Context) (Tx, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
