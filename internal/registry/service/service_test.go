package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"covenant/internal/registry/models"
	"covenant/internal/registry/store"
	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
	auditmemory "covenant/pkg/platform/audit/memory"
	"covenant/pkg/requestcontext"
)

const dscrDefinition = `{"formula":{"op":"divide","left":"ebitda","right":"totalDebtService"},"description":"Debt service coverage"}`

type ServiceSuite struct {
	suite.Suite
	store     *store.InMemory
	publisher *auditmemory.Publisher
	svc       *Service
	ctx       context.Context
	now       time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.publisher = auditmemory.NewPublisher()
	s.svc = New(s.store, s.store, s.store, WithAuditPublisher(s.publisher))
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithActor(s.ctx, "governance@bank")
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) createDraftWithEntry(name string) *models.RegistryVersion {
	v, err := s.svc.CreateVersion(s.ctx, name)
	s.Require().NoError(err)
	_, err = s.svc.AddEntry(s.ctx, v.ID, "dscr", json.RawMessage(dscrDefinition))
	s.Require().NoError(err)
	return v
}

func (s *ServiceSuite) publish(v *models.RegistryVersion) *models.RegistryVersion {
	published, err := s.svc.PublishVersion(s.ctx, v.ID)
	s.Require().NoError(err)
	return published
}

func (s *ServiceSuite) TestCreateVersion() {
	v, err := s.svc.CreateVersion(s.ctx, "2024-Q2 ratios")
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, v.Status)
	s.Equal(1, v.Sequence)
	s.Equal("governance@bank", v.CreatedBy)
	s.Equal(s.now, v.CreatedAt)

	v2, err := s.svc.CreateVersion(s.ctx, "2024-Q3 ratios")
	s.Require().NoError(err)
	s.Equal(2, v2.Sequence)
}

func (s *ServiceSuite) TestAddEntry() {
	v, err := s.svc.CreateVersion(s.ctx, "draft")
	s.Require().NoError(err)

	s.Run("accepts a valid definition and stamps its hash", func() {
		entry, err := s.svc.AddEntry(s.ctx, v.ID, "dscr", json.RawMessage(dscrDefinition))
		s.Require().NoError(err)
		s.Equal("dscr", entry.MetricKey)
		s.NotEmpty(entry.DefinitionHash)
	})

	s.Run("rejects a duplicate metric key", func() {
		_, err := s.svc.AddEntry(s.ctx, v.ID, "dscr", json.RawMessage(dscrDefinition))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects an unmappable definition", func() {
		_, err := s.svc.AddEntry(s.ctx, v.ID, "broken", json.RawMessage(`{"description":"no formula"}`))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "broken")
	})

	s.Run("rejects entries on a published version", func() {
		published := s.publish(v)
		_, err := s.svc.AddEntry(s.ctx, published.ID, "leverage", json.RawMessage(dscrDefinition))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Contains(err.Error(), models.ReasonRegistryImmutable)
	})
}

func (s *ServiceSuite) TestPublishVersion() {
	s.Run("stamps a content hash exactly once", func() {
		v := s.createDraftWithEntry("publishable")
		published := s.publish(v)
		s.Equal(models.StatusPublished, published.Status)
		s.NotEmpty(published.ContentHash)
		s.Require().NotNil(published.PublishedAt)
		s.Equal(s.now, *published.PublishedAt)
	})

	s.Run("empty draft fails with no_entries", func() {
		v, err := s.svc.CreateVersion(s.ctx, "empty")
		s.Require().NoError(err)
		_, err = s.svc.PublishVersion(s.ctx, v.ID)
		s.Require().Error(err)
		s.Contains(err.Error(), models.ReasonNoEntries)
	})

	s.Run("second publish fails with REGISTRY_IMMUTABLE", func() {
		v := s.createDraftWithEntry("twice")
		s.publish(v)
		_, err := s.svc.PublishVersion(s.ctx, v.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Contains(err.Error(), models.ReasonRegistryImmutable)
	})

	s.Run("unknown version is NotFound", func() {
		_, err := s.svc.PublishVersion(s.ctx, id.VersionID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("identical content in a new version yields an identical hash", func() {
		a := s.publish(s.createDraftWithEntry("replay-a"))
		b := s.publish(s.createDraftWithEntry("replay-b"))
		s.Equal(a.ContentHash, b.ContentHash)
	})
}

func (s *ServiceSuite) TestDeprecateVersion() {
	s.Run("deprecates a published version and keeps entries loadable", func() {
		v := s.publish(s.createDraftWithEntry("retiring"))
		deprecated, err := s.svc.DeprecateVersion(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDeprecated, deprecated.Status)
		s.Equal(v.ContentHash, deprecated.ContentHash)

		entries, err := s.svc.ListEntries(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.JSONEq(dscrDefinition, string(entries[0].Definition))
	})

	s.Run("rejects deprecating a draft", func() {
		v := s.createDraftWithEntry("still-draft")
		_, err := s.svc.DeprecateVersion(s.ctx, v.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *ServiceSuite) TestResolveBinding() {
	bank := id.BankID(uuid.New())

	s.Run("no versions at all resolves to nil", func() {
		binding, err := s.svc.ResolveBinding(s.ctx, &bank)
		s.Require().NoError(err)
		s.Nil(binding)
	})

	s.Run("latest published wins without a pin", func() {
		s.publish(s.createDraftWithEntry("older"))

		laterCtx := requestcontext.WithTime(s.ctx, s.now.Add(time.Hour))
		v := s.createDraftWithEntry("newer")
		newer, err := s.svc.PublishVersion(laterCtx, v.ID)
		s.Require().NoError(err)

		binding, err := s.svc.ResolveBinding(s.ctx, &bank)
		s.Require().NoError(err)
		s.Require().NotNil(binding)
		s.Equal(newer.ID, binding.VersionID)
		s.Equal(newer.ContentHash, binding.ContentHash)
	})

	s.Run("a pin to a deprecated version overrides the newest published", func() {
		pinned := s.publish(s.createDraftWithEntry("pinned-version"))
		_, err := s.svc.DeprecateVersion(s.ctx, pinned.ID)
		s.Require().NoError(err)

		laterCtx := requestcontext.WithTime(s.ctx, s.now.Add(2*time.Hour))
		v := s.createDraftWithEntry("globally-newest")
		_, err = s.svc.PublishVersion(laterCtx, v.ID)
		s.Require().NoError(err)

		_, err = s.svc.PinBank(s.ctx, bank, pinned.ID, "quarter-end freeze")
		s.Require().NoError(err)

		binding, err := s.svc.ResolveBinding(s.ctx, &bank)
		s.Require().NoError(err)
		s.Require().NotNil(binding)
		s.Equal(pinned.ID, binding.VersionID)
		s.Equal("pinned-version", binding.VersionName)

		// Other tenants still resolve to the global latest.
		otherBank := id.BankID(uuid.New())
		otherBinding, err := s.svc.ResolveBinding(s.ctx, &otherBank)
		s.Require().NoError(err)
		s.NotEqual(pinned.ID, otherBinding.VersionID)
	})

	s.Run("unpinning restores latest-published resolution", func() {
		s.Require().NoError(s.svc.UnpinBank(s.ctx, bank))
		binding, err := s.svc.ResolveBinding(s.ctx, &bank)
		s.Require().NoError(err)
		s.Require().NotNil(binding)
		s.Equal("globally-newest", binding.VersionName)
	})

	s.Run("pinned draft gets a lazily computed hash", func() {
		draft := s.createDraftWithEntry("pinned-draft")
		_, err := s.svc.PinBank(s.ctx, bank, draft.ID, "pre-release validation")
		s.Require().NoError(err)

		binding, err := s.svc.ResolveBinding(s.ctx, &bank)
		s.Require().NoError(err)
		s.Require().NotNil(binding)
		s.NotEmpty(binding.ContentHash)

		// The lazily computed hash is persisted.
		stored, err := s.svc.GetVersion(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.Equal(binding.ContentHash, stored.ContentHash)

		s.Require().NoError(s.svc.UnpinBank(s.ctx, bank))
	})

	s.Run("nil bank id resolves to latest published", func() {
		binding, err := s.svc.ResolveBinding(s.ctx, nil)
		s.Require().NoError(err)
		s.Require().NotNil(binding)
		s.Equal("globally-newest", binding.VersionName)
	})
}

func (s *ServiceSuite) TestPinValidation() {
	bank := id.BankID(uuid.New())

	s.Run("requires a reason", func() {
		v := s.publish(s.createDraftWithEntry("target"))
		_, err := s.svc.PinBank(s.ctx, bank, v.ID, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects pinning to a missing version", func() {
		_, err := s.svc.PinBank(s.ctx, bank, id.VersionID(uuid.New()), "because")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unpinning without a pin is NotFound", func() {
		err := s.svc.UnpinBank(s.ctx, id.BankID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestMetricDefinitions() {
	v := s.createDraftWithEntry("mappable")
	_, err := s.svc.AddEntry(s.ctx, v.ID, "netMargin", json.RawMessage(`{"expression":"netIncome / revenue"}`))
	s.Require().NoError(err)

	defs, err := s.svc.MetricDefinitions(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Require().Len(defs, 2)
	// Entry order is metric-key order.
	s.Equal("dscr", defs[0].Key)
	s.Equal("netMargin", defs[1].Key)
	s.Equal([]string{"netIncome", "revenue"}, defs[1].DependsOn)

	keys, err := s.svc.MetricKeys(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal([]string{"dscr", "netMargin"}, keys)
}

// mapEntryCache is a test double for the entry cache, exposing its rows so
// tests can observe and manipulate what the service stored.
type mapEntryCache struct {
	rows map[string][]*models.RegistryEntry
}

func newMapEntryCache() *mapEntryCache {
	return &mapEntryCache{rows: make(map[string][]*models.RegistryEntry)}
}

func (c *mapEntryCache) Get(_ context.Context, contentHash string) ([]*models.RegistryEntry, bool) {
	entries, ok := c.rows[contentHash]
	return entries, ok
}

func (c *mapEntryCache) Set(_ context.Context, contentHash string, entries []*models.RegistryEntry) {
	c.rows[contentHash] = entries
}

func (s *ServiceSuite) TestEntryCacheServesOnlyNonDrafts() {
	entryCache := newMapEntryCache()
	svc := New(s.store, s.store, s.store, WithEntryCache(entryCache))
	bank := id.BankID(uuid.New())

	draft, err := svc.CreateVersion(s.ctx, "cache-scope")
	s.Require().NoError(err)
	_, err = svc.AddEntry(s.ctx, draft.ID, "dscr", json.RawMessage(dscrDefinition))
	s.Require().NoError(err)

	s.Run("a pinned draft bypasses the cache in both directions", func() {
		_, err := svc.PinBank(s.ctx, bank, draft.ID, "pre-release validation")
		s.Require().NoError(err)
		binding, err := svc.ResolveBinding(s.ctx, &bank)
		s.Require().NoError(err)
		s.Require().NotNil(binding)
		s.Require().NotEmpty(binding.ContentHash)

		entries, err := svc.ListEntries(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Empty(entryCache.rows, "draft entries must never be written to the cache")

		// A row parked under the draft's lazily stamped hash is ignored:
		// the entry set can still grow, so the store keeps answering.
		entryCache.rows[binding.ContentHash] = entries
		_, err = svc.AddEntry(s.ctx, draft.ID, "netMargin", json.RawMessage(`{"expression":"netIncome / revenue"}`))
		s.Require().NoError(err)

		grown, err := svc.ListEntries(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.Len(grown, 2)
	})

	s.Run("published entries are cached and served by content hash", func() {
		published, err := svc.PublishVersion(s.ctx, draft.ID)
		s.Require().NoError(err)

		entries, err := svc.ListEntries(s.ctx, published.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Len(entryCache.rows[published.ContentHash], 2)

		// Subsequent reads are answered by the cache row.
		entryCache.rows[published.ContentHash] = entries[:1]
		cached, err := svc.ListEntries(s.ctx, published.ID)
		s.Require().NoError(err)
		s.Len(cached, 1)
	})
}

func (s *ServiceSuite) TestAuditTrail() {
	bank := id.BankID(uuid.New())
	v := s.publish(s.createDraftWithEntry("audited"))
	_, err := s.svc.PinBank(s.ctx, bank, v.ID, "freeze")
	s.Require().NoError(err)

	events := s.publisher.Events()
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	s.Contains(actions, string(audit.EventVersionCreated))
	s.Contains(actions, string(audit.EventEntryAdded))
	s.Contains(actions, string(audit.EventVersionPublished))
	s.Contains(actions, string(audit.EventBankPinned))

	// The publish event carries the binding coordinates for replay.
	for _, e := range events {
		if e.Action == string(audit.EventVersionPublished) {
			s.Equal(v.ID.String(), e.VersionID)
			s.Equal(v.ContentHash, e.ContentHash)
			s.Equal("governance@bank", e.Actor)
		}
	}
}
