// Package memory is an in-process storage backend for tests and dry runs.
package memory

import (
	"context"
	"slices"
	"sync"

	"comprobantes/internal/core"
	"comprobantes/internal/storage"
)

type Store struct {
	mu      sync.Mutex
	seen    storage.SeenDocument
	totals  storage.TotalsDocument
	records map[storage.LogKind][]core.ClassificationRecord
}

var _ storage.Store = (*Store)(nil)

func New(timezone string) *Store {
	return &Store{
		seen:    storage.NewSeenDocument(),
		totals:  storage.NewTotalsDocument(timezone),
		records: make(map[storage.LogKind][]core.ClassificationRecord),
	}
}

func (s *Store) LoadSeen(context.Context) (storage.SeenDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.Clone(), nil
}

func (s *Store) SaveSeen(_ context.Context, doc storage.SeenDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = doc.Clone()
	return nil
}

func (s *Store) LoadTotals(context.Context) (storage.TotalsDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals.Clone(), nil
}

func (s *Store) SaveTotals(_ context.Context, doc storage.TotalsDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals = doc.Clone()
	return nil
}

func (s *Store) AppendRecord(_ context.Context, kind storage.LogKind, rec core.ClassificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[kind] = append(s.records[kind], rec)
	return nil
}

// Records returns a copy of one log.
func (s *Store) Records(kind storage.LogKind) []core.ClassificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records[kind])
}
