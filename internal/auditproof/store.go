package auditproof

import (
	"context"
	"sort"
	"sync"

	id "covenant/pkg/domain"
	"covenant/pkg/platform/sentinel"
)

// Store persists export records. Records are append-only; there is no update
// or delete path, by the same reasoning that registry entries are immutable.
type Store interface {
	Save(ctx context.Context, record *Record) error
	FindByID(ctx context.Context, proofID id.ProofID) (*Record, error)
	ListByDeal(ctx context.Context, dealID id.DealID) ([]*Record, error)
}

// MemoryStore is the in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[id.ProofID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[id.ProofID]*Record)}
}

func (s *MemoryStore) Save(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, proofID id.ProofID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[proofID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *MemoryStore) ListByDeal(_ context.Context, dealID id.DealID) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, record := range s.records {
		if record.DealID == dealID {
			clone := *record
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.Before(out[j].GeneratedAt) })
	return out, nil
}
