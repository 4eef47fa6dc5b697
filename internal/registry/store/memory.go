package store

import (
	"context"
	"sort"
	"sync"

	"covenant/internal/registry/models"
	id "covenant/pkg/domain"
	"covenant/pkg/platform/sentinel"
)

// InMemory implements VersionStore, EntryStore, and PinStore for tests and
// single-process deployments. All methods copy on the way in and out so
// callers can never mutate stored state from outside a transition.
type InMemory struct {
	mu       sync.RWMutex
	versions map[id.VersionID]*models.RegistryVersion
	entries  map[id.VersionID][]*models.RegistryEntry
	pins     map[id.BankID]*models.BankRegistryPin
	sequence int
}

func NewInMemory() *InMemory {
	return &InMemory{
		versions: make(map[id.VersionID]*models.RegistryVersion),
		entries:  make(map[id.VersionID][]*models.RegistryEntry),
		pins:     make(map[id.BankID]*models.BankRegistryPin),
	}
}

func copyVersion(v *models.RegistryVersion) *models.RegistryVersion {
	out := *v
	if v.PublishedAt != nil {
		t := *v.PublishedAt
		out.PublishedAt = &t
	}
	return &out
}

func copyEntry(e *models.RegistryEntry) *models.RegistryEntry {
	out := *e
	out.Definition = append([]byte{}, e.Definition...)
	return &out
}

func (s *InMemory) Create(_ context.Context, version *models.RegistryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.versions[version.ID]; exists {
		return sentinel.ErrConflict
	}
	s.versions[version.ID] = copyVersion(version)
	if version.Sequence > s.sequence {
		s.sequence = version.Sequence
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, versionID id.VersionID) (*models.RegistryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyVersion(v), nil
}

func (s *InMemory) LatestPublished(_ context.Context) (*models.RegistryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.RegistryVersion
	for _, v := range s.versions {
		if v.Status != models.StatusPublished || v.PublishedAt == nil {
			continue
		}
		if latest == nil || v.PublishedAt.After(*latest.PublishedAt) {
			latest = v
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return copyVersion(latest), nil
}

func (s *InMemory) NextSequence(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence, nil
}

func (s *InMemory) TransitionStatus(_ context.Context, version *models.RegistryVersion, expected models.VersionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.versions[version.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != expected {
		return sentinel.ErrInvalidState
	}
	s.versions[version.ID] = copyVersion(version)
	return nil
}

func (s *InMemory) SetContentHash(_ context.Context, versionID id.VersionID, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.versions[versionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.ContentHash == "" {
		current.ContentHash = contentHash
	}
	return nil
}

func (s *InMemory) Add(_ context.Context, entry *models.RegistryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries[entry.RegistryVersionID] {
		if existing.MetricKey == entry.MetricKey {
			return sentinel.ErrConflict
		}
	}
	s.entries[entry.RegistryVersionID] = append(s.entries[entry.RegistryVersionID], copyEntry(entry))
	return nil
}

func (s *InMemory) ListByVersion(_ context.Context, versionID id.VersionID) ([]*models.RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.entries[versionID]
	out := make([]*models.RegistryEntry, 0, len(stored))
	for _, e := range stored {
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricKey < out[j].MetricKey })
	return out, nil
}

func (s *InMemory) CountByVersion(_ context.Context, versionID id.VersionID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[versionID]), nil
}

func (s *InMemory) Upsert(_ context.Context, pin *models.BankRegistryPin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *pin
	s.pins[pin.BankID] = &copied
	return nil
}

func (s *InMemory) FindByBank(_ context.Context, bankID id.BankID) (*models.BankRegistryPin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pin, ok := s.pins[bankID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *pin
	return &copied, nil
}

func (s *InMemory) Delete(_ context.Context, bankID id.BankID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pins[bankID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.pins, bankID)
	return nil
}
