package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/dandantas/custodian/internal/model"
)

// fakeStore keeps authorities in memory and emulates savepoints by
// snapshotting pending writes
type fakeStore struct {
	mu          sync.Mutex
	rows        map[int64]model.Authority
	scanErrAt   int64
	failUpdate  map[int64]bool
	failCommits int
	commits     int
}

func newFakeStore(rows ...model.Authority) *fakeStore {
	s := &fakeStore{rows: make(map[int64]model.Authority), failUpdate: make(map[int64]bool)}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func row(id int64, name string, crc *int64) model.Authority {
	a := model.Authority{ID: id, Name: sql.NullString{String: name, Valid: true}}
	if crc != nil {
		a.CRC = sql.NullInt64{Int64: *crc, Valid: true}
	}
	return a
}

func ptr(v int64) *int64 { return &v }

func (s *fakeStore) crc(id int64) sql.NullInt64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].CRC
}

func (s *fakeStore) ScanAuthorities(context.Context) iter.Seq2[model.Authority, error] {
	return func(yield func(model.Authority, error) bool) {
		s.mu.Lock()
		ids := slices.Sorted(maps.Keys(s.rows))
		rows := make([]model.Authority, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, s.rows[id])
		}
		s.mu.Unlock()

		for _, r := range rows {
			if s.scanErrAt != 0 && r.ID == s.scanErrAt {
				yield(model.Authority{}, errors.New("connection reset"))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (s *fakeStore) GetAuthority(_ context.Context, id int64) (*model.Authority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &a, nil
}

func (s *fakeStore) BeginBatch(context.Context) (Tx, error) {
	return &fakeTx{store: s, pending: make(map[int64]int64), marks: make(map[string]map[int64]int64)}, nil
}

type fakeTx struct {
	store   *fakeStore
	pending map[int64]int64
	marks   map[string]map[int64]int64
	seq     int
	done    bool
}

func (t *fakeTx) GetAuthority(_ context.Context, id int64) (*model.Authority, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	a, ok := t.store.rows[id]
	if !ok {
		return nil, nil
	}
	if crc, ok := t.pending[id]; ok {
		a.CRC = sql.NullInt64{Int64: crc, Valid: true}
	}
	return &a, nil
}

func (t *fakeTx) UpdateCRC(_ context.Context, id int64, crc int64) error {
	t.store.mu.Lock()
	fail := t.store.failUpdate[id]
	t.store.mu.Unlock()

	// the write lands before the failure so rollback is observable
	t.pending[id] = crc
	if fail {
		return fmt.Errorf("constraint violation on %d", id)
	}
	return nil
}

func (t *fakeTx) CreateSavepoint(_ context.Context, prefix string) (string, error) {
	t.seq++
	name := fmt.Sprintf("%s_%d", prefix, t.seq)
	t.marks[name] = maps.Clone(t.pending)
	return name, nil
}

func (t *fakeTx) ReleaseSavepoint(_ context.Context, name string) error {
	if _, ok := t.marks[name]; !ok {
		return fmt.Errorf("unknown savepoint %s", name)
	}
	delete(t.marks, name)
	return nil
}

func (t *fakeTx) RollbackToSavepoint(_ context.Context, name string) error {
	snapshot, ok := t.marks[name]
	if !ok {
		return fmt.Errorf("unknown savepoint %s", name)
	}
	t.pending = snapshot
	delete(t.marks, name)
	return nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.done = true
	if t.store.commits < t.store.failCommits {
		t.store.commits++
		return errors.New("serialization failure")
	}
	t.store.commits++
	for id, crc := range t.pending {
		if a, ok := t.store.rows[id]; ok {
			a.CRC = sql.NullInt64{Int64: crc, Valid: true}
			t.store.rows[id] = a
		}
	}
	return nil
}

func (t *fakeTx) Rollback() error {
	t.done = true
	t.pending = nil
	return nil
}
