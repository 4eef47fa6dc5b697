package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"covenant/internal/registry/models"
	id "covenant/pkg/domain"
	"covenant/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) newDraft(name string) *models.RegistryVersion {
	seq, err := s.store.NextSequence(s.ctx)
	s.Require().NoError(err)
	v, err := models.NewRegistryVersion(id.VersionID(uuid.New()), name, seq, "governance@bank", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, v))
	return v
}

func (s *MemoryStoreSuite) newEntry(versionID id.VersionID, key string) *models.RegistryEntry {
	return &models.RegistryEntry{
		ID:                id.EntryID(uuid.New()),
		RegistryVersionID: versionID,
		MetricKey:         key,
		Definition:        json.RawMessage(`{"formula":{"op":"divide","left":"A","right":"B"}}`),
		DefinitionHash:    "hash-" + key,
		CreatedAt:         s.now,
	}
}

func (s *MemoryStoreSuite) TestVersionLookups() {
	s.Run("creates and finds a version", func() {
		v := s.newDraft("2024-Q2")
		found, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(v.Name, found.Name)
		s.Equal(models.StatusDraft, found.Status)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.VersionID(uuid.New()))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned copies are isolated from stored state", func() {
		v := s.newDraft("isolation")
		found, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		found.Status = models.StatusDeprecated

		again, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDraft, again.Status)
	})
}

func (s *MemoryStoreSuite) TestCASTransitions() {
	s.Run("publish succeeds once", func() {
		v := s.newDraft("cas")
		v.ApplyPublish("hash1", s.now)
		s.Require().NoError(s.store.TransitionStatus(s.ctx, v, models.StatusDraft))

		found, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPublished, found.Status)
		s.Equal("hash1", found.ContentHash)
	})

	s.Run("second publish loses the CAS race", func() {
		v := s.newDraft("race")
		v.ApplyPublish("hash1", s.now)
		s.Require().NoError(s.store.TransitionStatus(s.ctx, v, models.StatusDraft))

		// A competing publisher still holds the draft view.
		err := s.store.TransitionStatus(s.ctx, v, models.StatusDraft)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("deprecate guards on published", func() {
		v := s.newDraft("dep")
		err := s.store.TransitionStatus(s.ctx, v, models.StatusPublished)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("transition on missing row is ErrNotFound", func() {
		ghost, err := models.NewRegistryVersion(id.VersionID(uuid.New()), "ghost", 99, "", s.now)
		s.Require().NoError(err)
		s.Require().ErrorIs(s.store.TransitionStatus(s.ctx, ghost, models.StatusDraft), sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestLatestPublished() {
	s.Run("empty store has no published version", func() {
		_, err := s.store.LatestPublished(s.ctx)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("orders by publish time descending", func() {
		older := s.newDraft("older")
		older.ApplyPublish("h1", s.now)
		s.Require().NoError(s.store.TransitionStatus(s.ctx, older, models.StatusDraft))

		newer := s.newDraft("newer")
		newer.ApplyPublish("h2", s.now.Add(time.Hour))
		s.Require().NoError(s.store.TransitionStatus(s.ctx, newer, models.StatusDraft))

		latest, err := s.store.LatestPublished(s.ctx)
		s.Require().NoError(err)
		s.Equal(newer.ID, latest.ID)
	})

	s.Run("deprecated versions drop out of latest", func() {
		v := s.newDraft("retired")
		v.ApplyPublish("h3", s.now.Add(2*time.Hour))
		s.Require().NoError(s.store.TransitionStatus(s.ctx, v, models.StatusDraft))
		v.ApplyDeprecate(s.now.Add(3 * time.Hour))
		s.Require().NoError(s.store.TransitionStatus(s.ctx, v, models.StatusPublished))

		latest, err := s.store.LatestPublished(s.ctx)
		s.Require().NoError(err)
		s.NotEqual(v.ID, latest.ID)
	})
}

func (s *MemoryStoreSuite) TestSetContentHash() {
	v := s.newDraft("backfill")
	s.Require().NoError(s.store.SetContentHash(s.ctx, v.ID, "lazy-hash"))

	found, err := s.store.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal("lazy-hash", found.ContentHash)

	s.Run("never overwrites an existing hash", func() {
		s.Require().NoError(s.store.SetContentHash(s.ctx, v.ID, "other-hash"))
		found, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal("lazy-hash", found.ContentHash)
	})
}

func (s *MemoryStoreSuite) TestEntries() {
	v := s.newDraft("entries")

	s.Run("rejects duplicate metric key within a version", func() {
		s.Require().NoError(s.store.Add(s.ctx, s.newEntry(v.ID, "dscr")))
		err := s.store.Add(s.ctx, s.newEntry(v.ID, "dscr"))
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("same key in another version is fine", func() {
		other := s.newDraft("entries-2")
		s.Require().NoError(s.store.Add(s.ctx, s.newEntry(other.ID, "dscr")))
	})

	s.Run("lists ordered by metric key", func() {
		s.Require().NoError(s.store.Add(s.ctx, s.newEntry(v.ID, "leverage")))
		s.Require().NoError(s.store.Add(s.ctx, s.newEntry(v.ID, "currentRatio")))

		entries, err := s.store.ListByVersion(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		s.Equal("currentRatio", entries[0].MetricKey)
		s.Equal("dscr", entries[1].MetricKey)
		s.Equal("leverage", entries[2].MetricKey)

		count, err := s.store.CountByVersion(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(3, count)
	})
}

func (s *MemoryStoreSuite) TestPins() {
	bank := id.BankID(uuid.New())
	v1 := s.newDraft("pin-target-1")
	v2 := s.newDraft("pin-target-2")

	s.Run("missing pin is ErrNotFound", func() {
		_, err := s.store.FindByBank(s.ctx, bank)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("upsert keeps at most one live pin per bank", func() {
		s.Require().NoError(s.store.Upsert(s.ctx, &models.BankRegistryPin{
			ID: id.PinID(uuid.New()), BankID: bank, RegistryVersionID: v1.ID,
			PinnedAt: s.now, PinnedBy: "risk-lead", Reason: "quarter-end freeze",
		}))
		s.Require().NoError(s.store.Upsert(s.ctx, &models.BankRegistryPin{
			ID: id.PinID(uuid.New()), BankID: bank, RegistryVersionID: v2.ID,
			PinnedAt: s.now.Add(time.Hour), PinnedBy: "risk-lead", Reason: "model update",
		}))

		pin, err := s.store.FindByBank(s.ctx, bank)
		s.Require().NoError(err)
		s.Equal(v2.ID, pin.RegistryVersionID)
		s.Equal("model update", pin.Reason)
	})

	s.Run("delete removes the live pin", func() {
		s.Require().NoError(s.store.Delete(s.ctx, bank))
		_, err := s.store.FindByBank(s.ctx, bank)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
		s.Require().ErrorIs(s.store.Delete(s.ctx, bank), sentinel.ErrNotFound)
	})
}
