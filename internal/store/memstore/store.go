// Package memstore is an in-process Event Store used by tests; the
// settler command wires only the Postgres store. Grounded on the
// teacher's JSONL sink (internal/storage/jsonl.go), generalized from
// "append-only file" to "append-only in-memory slice with indexes"
// since store.Store needs queries the JSONL sink never had to serve.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"settler/internal/model"
	"settler/internal/store"
)

// Store is a map-backed implementation of store.Store.
type Store struct {
	mu      sync.RWMutex
	records map[string]model.EventRecord
	order   []string // insertion order, for deterministic iteration
}

// New builds an empty Store.
func New() *Store {
	return &Store{records: make(map[string]model.EventRecord)}
}

func (s *Store) Append(_ context.Context, record model.EventRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	s.records[record.ID] = record
	s.order = append(s.order, record.ID)
	return record.ID, nil
}

func (s *Store) FindOne(_ context.Context, query store.EventQuery, sortOrder store.SortOrder) (model.EventRecord, bool, error) {
	s.mu.RLock()
	matches := s.matchLocked(query)
	s.mu.RUnlock()

	if len(matches) == 0 {
		return model.EventRecord{}, false, nil
	}

	sortRecords(matches, sortOrder)
	return matches[0], true, nil
}

func (s *Store) UpdateLink(_ context.Context, idA, idB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.records[idA]
	if !ok {
		return recordNotFoundError(idA)
	}
	b, ok := s.records[idB]
	if !ok {
		return recordNotFoundError(idB)
	}

	a.RelatedEventID = &idB
	a.Processed = true
	b.RelatedEventID = &idA
	b.Processed = true

	s.records[idA] = a
	s.records[idB] = b
	return nil
}

func (s *Store) Count(_ context.Context, query store.EventQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchLocked(query))), nil
}

func (s *Store) Find(_ context.Context, query store.EventQuery, skip, limit int) ([]model.EventRecord, error) {
	s.mu.RLock()
	matches := s.matchLocked(query)
	s.mu.RUnlock()

	sortRecords(matches, store.SortDescending)

	if skip >= len(matches) {
		return nil, nil
	}
	matches = matches[skip:]
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) FindByIDs(_ context.Context, ids []string) ([]model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.EventRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) Close() {}

func (s *Store) matchLocked(query store.EventQuery) []model.EventRecord {
	out := make([]model.EventRecord, 0)
	for _, id := range s.order {
		r, ok := s.records[id]
		if !ok {
			continue
		}
		if query.EventType != nil && r.EventType != *query.EventType {
			continue
		}
		if query.RoomID != nil && r.RoomID != *query.RoomID {
			continue
		}
		if query.Player != nil && r.Player != *query.Player {
			continue
		}
		if query.Processed != nil && r.Processed != *query.Processed {
			continue
		}
		if query.BetID != nil && r.BetID != *query.BetID {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sortRecords(records []model.EventRecord, order store.SortOrder) {
	sort.Slice(records, func(i, j int) bool {
		if order == store.SortAscending {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].BlockNumber > records[j].BlockNumber
	})
}

type recordNotFoundError string

func (e recordNotFoundError) Error() string { return "record not found: " + string(e) }
