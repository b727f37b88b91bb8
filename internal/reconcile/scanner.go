package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrScanFailed is returned when the worklist could not be built. No repair
// is attempted from a partial scan.
var ErrScanFailed = errors.New("authority scan failed")

// Scanner finds authorities whose stored CRC does not match their key
type Scanner struct {
	store Store
}

// NewScanner creates a scanner over store
func NewScanner(store Store) *Scanner {
	return &Scanner{store: store}
}

// Mismatches lazily yields the IDs of authorities whose stored CRC is absent
// or differs from Checksum of the key, in scan order. It is single-pass; the
// first error ends the sequence.
func (s *Scanner) Mismatches(ctx context.Context) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		for a, err := range s.store.ScanAuthorities(ctx) {
			if err != nil {
				yield(0, err)
				return
			}
			if a.CRC.Valid && a.CRC.Int64 == Checksum(a.Key()) {
				continue
			}
			if !yield(a.ID, nil) {
				return
			}
		}
	}
}

// Collect materializes a mismatch sequence into a worklist
func Collect(seq iter.Seq2[int64, error]) ([]int64, error) {
	var ids []int64
	for id, err := range seq {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
