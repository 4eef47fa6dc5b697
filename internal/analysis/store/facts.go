// Package store holds the ingested financial facts the evaluation path reads.
package store

import (
	"context"
	"sync"

	"covenant/internal/analysis/models"
	id "covenant/pkg/domain"
)

// FactStore persists the per-deal facts delivered by the upstream
// financial-model producer and portfolio engine. Facts are replaced
// wholesale per delivery; the engine never edits them.
type FactStore interface {
	SavePeriods(ctx context.Context, dealID id.DealID, periods []*models.FinancialPeriod) error
	PeriodsForDeal(ctx context.Context, dealID id.DealID) ([]*models.FinancialPeriod, error)
	SaveInstruments(ctx context.Context, dealID id.DealID, instruments []*models.DebtInstrument) error
	InstrumentsForDeal(ctx context.Context, dealID id.DealID) ([]*models.DebtInstrument, error)
}

// InMemory is a mutex-guarded FactStore.
type InMemory struct {
	mu          sync.RWMutex
	periods     map[id.DealID][]*models.FinancialPeriod
	instruments map[id.DealID][]*models.DebtInstrument
}

func NewInMemory() *InMemory {
	return &InMemory{
		periods:     make(map[id.DealID][]*models.FinancialPeriod),
		instruments: make(map[id.DealID][]*models.DebtInstrument),
	}
}

func (s *InMemory) SavePeriods(_ context.Context, dealID id.DealID, periods []*models.FinancialPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods[dealID] = clonePeriods(periods)
	return nil
}

// PeriodsForDeal returns the deal's periods. An unknown deal yields an empty
// slice, not an error: "no facts yet" is a normal state the evaluators
// already report through their own diagnostics.
func (s *InMemory) PeriodsForDeal(_ context.Context, dealID id.DealID) ([]*models.FinancialPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePeriods(s.periods[dealID]), nil
}

func (s *InMemory) SaveInstruments(_ context.Context, dealID id.DealID, instruments []*models.DebtInstrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[dealID] = cloneInstruments(instruments)
	return nil
}

func (s *InMemory) InstrumentsForDeal(_ context.Context, dealID id.DealID) ([]*models.DebtInstrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInstruments(s.instruments[dealID]), nil
}

func clonePeriods(in []*models.FinancialPeriod) []*models.FinancialPeriod {
	out := make([]*models.FinancialPeriod, 0, len(in))
	for _, p := range in {
		clone := *p
		out = append(out, &clone)
	}
	return out
}

func cloneInstruments(in []*models.DebtInstrument) []*models.DebtInstrument {
	out := make([]*models.DebtInstrument, 0, len(in))
	for _, inst := range in {
		clone := *inst
		out = append(out, &clone)
	}
	return out
}
