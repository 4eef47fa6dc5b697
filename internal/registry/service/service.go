// Package service orchestrates registry governance: version lifecycle,
// entry management, tenant pins, and binding resolution.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"covenant/internal/canonical"
	"covenant/internal/registry/mapper"
	registrymetrics "covenant/internal/registry/metrics"
	"covenant/internal/registry/models"
	"covenant/internal/registry/store"
	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/platform/sentinel"
	"covenant/pkg/requestcontext"
)

const tracerName = "covenant/registry"

// EntryCache caches entry lists by content hash. Implemented by
// cache.EntryCache; a nil implementation value is a valid no-op.
type EntryCache interface {
	Get(ctx context.Context, contentHash string) ([]*models.RegistryEntry, bool)
	Set(ctx context.Context, contentHash string, entries []*models.RegistryEntry)
}

// Service owns registry governance. All timestamps come from request context
// so a whole governance request agrees on "now".
type Service struct {
	versions store.VersionStore
	entries  store.EntryStore
	pins     store.PinStore

	entryCache EntryCache
	publisher  audit.Publisher
	metrics    *registrymetrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *registrymetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditPublisher wires the governance audit trail. Publish, deprecate and
// pin operations become fail-closed: if the trail cannot be written the
// operation reports failure.
func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

// WithEntryCache wires the content-addressed entry cache.
func WithEntryCache(c EntryCache) Option {
	return func(s *Service) { s.entryCache = c }
}

func New(versions store.VersionStore, entries store.EntryStore, pins store.PinStore, opts ...Option) *Service {
	s := &Service{
		versions: versions,
		entries:  entries,
		pins:     pins,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CreateVersion opens a new empty draft with the next sequence number.
func (s *Service) CreateVersion(ctx context.Context, name string) (*models.RegistryVersion, error) {
	ctx, span := s.tracer.Start(ctx, "registry.CreateVersion")
	defer span.End()

	seq, err := s.versions.NextSequence(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate version sequence")
	}

	version, err := models.NewRegistryVersion(
		id.VersionID(uuid.New()), name, seq, requestcontext.Actor(ctx), requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.versions.Create(ctx, version); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create registry version")
	}

	if err := s.emit(ctx, audit.EventVersionCreated, version, "", ""); err != nil {
		return nil, err
	}
	return version, nil
}

// GetVersion loads one version by ID.
func (s *Service) GetVersion(ctx context.Context, versionID id.VersionID) (*models.RegistryVersion, error) {
	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, translateStoreErr(err, "registry version not found")
	}
	return version, nil
}

// AddEntry appends a formula entry to a draft version. The definition is
// validated through the mapper before it is accepted: unmappable formulas
// never enter the registry.
func (s *Service) AddEntry(ctx context.Context, versionID id.VersionID, metricKey string, definition json.RawMessage) (*models.RegistryEntry, error) {
	ctx, span := s.tracer.Start(ctx, "registry.AddEntry")
	defer span.End()

	if metricKey == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "metric key is required")
	}

	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, translateStoreErr(err, "registry version not found")
	}
	if !version.IsDraft() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, models.ReasonRegistryImmutable)
	}

	definitionHash, err := canonical.HashEntry(definition)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash entry definition")
	}

	entry := &models.RegistryEntry{
		ID:                id.EntryID(uuid.New()),
		RegistryVersionID: versionID,
		MetricKey:         metricKey,
		Definition:        definition,
		DefinitionHash:    definitionHash,
		CreatedAt:         requestcontext.Now(ctx),
	}

	// Validate at the boundary: the evaluator must never see untyped data.
	if _, err := mapper.EntryToMetricDef(entry); err != nil {
		return nil, err
	}

	if err := s.entries.Add(ctx, entry); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "metric %q already defined in this version", metricKey)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store registry entry")
	}

	if err := s.emit(ctx, audit.EventEntryAdded, version, "", metricKey); err != nil {
		return nil, err
	}
	return entry, nil
}

// PublishVersion transitions a draft to published, stamping the content hash
// computed over its canonicalized entries. The store applies the transition
// as a CAS on the draft status, so a lost race surfaces as StateConflict.
func (s *Service) PublishVersion(ctx context.Context, versionID id.VersionID) (*models.RegistryVersion, error) {
	ctx, span := s.tracer.Start(ctx, "registry.PublishVersion")
	defer span.End()

	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, translateStoreErr(err, "registry version not found")
	}

	entries, err := s.entries.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entries")
	}

	if err := version.CanPublish(len(entries)); err != nil {
		return nil, err
	}

	contentHash, err := registryHash(entries)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash registry content")
	}

	version.ApplyPublish(contentHash, requestcontext.Now(ctx))
	if err := s.versions.TransitionStatus(ctx, version, models.StatusDraft); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, models.ReasonRegistryImmutable)
		}
		return nil, translateStoreErr(err, "registry version not found")
	}

	if s.metrics != nil {
		s.metrics.VersionsPublished.Inc()
	}
	s.logger.InfoContext(ctx, "registry version published",
		"version_id", version.ID, "sequence", version.Sequence, "content_hash", contentHash)

	if err := s.emit(ctx, audit.EventVersionPublished, version, "", ""); err != nil {
		return nil, err
	}
	return version, nil
}

// DeprecateVersion transitions published→deprecated. Entries are retained so
// historical computations tied to the content hash stay reproducible.
func (s *Service) DeprecateVersion(ctx context.Context, versionID id.VersionID) (*models.RegistryVersion, error) {
	ctx, span := s.tracer.Start(ctx, "registry.DeprecateVersion")
	defer span.End()

	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, translateStoreErr(err, "registry version not found")
	}

	if err := version.CanDeprecate(); err != nil {
		return nil, err
	}

	version.ApplyDeprecate(requestcontext.Now(ctx))
	if err := s.versions.TransitionStatus(ctx, version, models.StatusPublished); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "deprecate lost a concurrent transition")
		}
		return nil, translateStoreErr(err, "registry version not found")
	}

	if s.metrics != nil {
		s.metrics.VersionsDeprecated.Inc()
	}

	if err := s.emit(ctx, audit.EventVersionDeprecated, version, "", ""); err != nil {
		return nil, err
	}
	return version, nil
}

// PinBank binds a tenant to a specific version. The target may be deprecated;
// pinning to a historical version is exactly what pins are for.
func (s *Service) PinBank(ctx context.Context, bankID id.BankID, versionID id.VersionID, reason string) (*models.BankRegistryPin, error) {
	ctx, span := s.tracer.Start(ctx, "registry.PinBank")
	defer span.End()

	if bankID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "bank id is required")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "pin reason is required")
	}

	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, translateStoreErr(err, "registry version not found")
	}

	pin := &models.BankRegistryPin{
		ID:                id.PinID(uuid.New()),
		BankID:            bankID,
		RegistryVersionID: versionID,
		PinnedAt:          requestcontext.Now(ctx),
		PinnedBy:          requestcontext.Actor(ctx),
		Reason:            reason,
	}
	if err := s.pins.Upsert(ctx, pin); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store bank pin")
	}

	if s.metrics != nil {
		s.metrics.BanksPinned.Inc()
	}

	if err := s.emitPin(ctx, audit.EventBankPinned, bankID, version, reason); err != nil {
		return nil, err
	}
	return pin, nil
}

// UnpinBank removes a tenant's pin, returning it to latest-published resolution.
func (s *Service) UnpinBank(ctx context.Context, bankID id.BankID) error {
	ctx, span := s.tracer.Start(ctx, "registry.UnpinBank")
	defer span.End()

	pin, err := s.pins.FindByBank(ctx, bankID)
	if err != nil {
		return translateStoreErr(err, "bank has no live pin")
	}
	if err := s.pins.Delete(ctx, bankID); err != nil {
		return translateStoreErr(err, "bank has no live pin")
	}

	version, err := s.versions.FindByID(ctx, pin.RegistryVersionID)
	if err != nil {
		// Pin removed; the audit event still records the version id.
		version = &models.RegistryVersion{ID: pin.RegistryVersionID}
	}
	return s.emitPin(ctx, audit.EventBankUnpinned, bankID, version, "")
}

// ResolveBinding selects the active registry binding for a tenant.
//
// Order: a live pin wins, even when the pinned version is deprecated - the
// pin is an explicit override. Otherwise the latest published version by
// publish time. Otherwise nil, which callers must treat as "no registry
// bound" rather than defaulting to anything.
func (s *Service) ResolveBinding(ctx context.Context, bankID *id.BankID) (*models.Binding, error) {
	ctx, span := s.tracer.Start(ctx, "registry.ResolveBinding")
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ResolveDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if bankID != nil && !bankID.IsNil() {
		pin, err := s.pins.FindByBank(ctx, *bankID)
		switch {
		case err == nil:
			version, err := s.versions.FindByID(ctx, pin.RegistryVersionID)
			if err != nil {
				return nil, translateStoreErr(err, "pinned registry version not found")
			}
			if err := s.ensureContentHash(ctx, version); err != nil {
				return nil, err
			}
			s.countResolve("pinned")
			return bindingOf(version), nil
		case errors.Is(err, sentinel.ErrNotFound):
			// No pin; fall through to latest-published.
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load bank pin")
		}
	}

	latest, err := s.versions.LatestPublished(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.countResolve("unbound")
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest published version")
	}
	s.countResolve("latest")
	return bindingOf(latest), nil
}

// ListEntries returns a version's entries ordered by metric key, consulting
// the content-addressed cache for hashed non-draft versions. Drafts bypass
// the cache entirely: a pinned draft carries a lazily stamped hash while its
// entries can still grow, so caching under that hash would serve stale rows.
func (s *Service) ListEntries(ctx context.Context, versionID id.VersionID) ([]*models.RegistryEntry, error) {
	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, translateStoreErr(err, "registry version not found")
	}
	cacheable := s.entryCache != nil && !version.IsDraft() && version.ContentHash != ""

	if cacheable {
		if cached, ok := s.entryCache.Get(ctx, version.ContentHash); ok {
			return cached, nil
		}
	}

	entries, err := s.entries.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entries")
	}

	if cacheable {
		s.entryCache.Set(ctx, version.ContentHash, entries)
	}
	return entries, nil
}

// MetricDefinitions maps a version's entries to typed definitions.
func (s *Service) MetricDefinitions(ctx context.Context, versionID id.VersionID) ([]*mapper.MetricDefinition, error) {
	entries, err := s.ListEntries(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return mapper.EntriesToMetricDefs(entries)
}

// MetricKeys returns the metric keys governed by a version, in key order.
func (s *Service) MetricKeys(ctx context.Context, versionID id.VersionID) ([]string, error) {
	entries, err := s.ListEntries(ctx, versionID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.MetricKey)
	}
	return keys, nil
}

// ensureContentHash backfills the hash of a resolved version that never got
// one (a pinned draft, or a row migrated before hashing existed). First
// writer wins in the store; the in-memory aggregate is updated either way.
func (s *Service) ensureContentHash(ctx context.Context, version *models.RegistryVersion) error {
	if version.ContentHash != "" {
		return nil
	}
	entries, err := s.entries.ListByVersion(ctx, version.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entries for hashing")
	}
	contentHash, err := registryHash(entries)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash registry content")
	}
	if err := s.versions.SetContentHash(ctx, version.ID, contentHash); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist content hash")
	}
	version.ContentHash = contentHash
	return nil
}

func (s *Service) countResolve(outcome string) {
	if s.metrics != nil {
		s.metrics.ResolveOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, version *models.RegistryVersion, reason, metricKey string) error {
	if s.publisher == nil {
		return nil
	}
	event := audit.Event{
		Timestamp:   requestcontext.Now(ctx),
		Action:      string(action),
		VersionID:   version.ID.String(),
		ContentHash: version.ContentHash,
		Actor:       requestcontext.Actor(ctx),
		Reason:      reason,
		RequestID:   requestcontext.RequestID(ctx),
	}
	if metricKey != "" {
		event.Reason = "metric:" + metricKey
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "governance audit trail write failed")
	}
	return nil
}

func (s *Service) emitPin(ctx context.Context, action audit.AuditEvent, bankID id.BankID, version *models.RegistryVersion, reason string) error {
	if s.publisher == nil {
		return nil
	}
	event := audit.Event{
		Timestamp:   requestcontext.Now(ctx),
		Action:      string(action),
		BankID:      bankID.String(),
		VersionID:   version.ID.String(),
		ContentHash: version.ContentHash,
		Actor:       requestcontext.Actor(ctx),
		Reason:      reason,
		RequestID:   requestcontext.RequestID(ctx),
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "governance audit trail write failed")
	}
	return nil
}

func registryHash(entries []*models.RegistryEntry) (string, error) {
	contents := make([]canonical.EntryContent, 0, len(entries))
	for _, e := range entries {
		contents = append(contents, canonical.EntryContent{
			MetricKey:  e.MetricKey,
			Definition: e.Definition,
		})
	}
	return canonical.HashRegistry(contents)
}

func bindingOf(v *models.RegistryVersion) *models.Binding {
	return &models.Binding{
		VersionID:   v.ID,
		VersionName: v.Name,
		ContentHash: v.ContentHash,
	}
}

func translateStoreErr(err error, notFoundMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "store operation failed")
}
