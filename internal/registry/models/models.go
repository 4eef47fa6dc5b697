// Package models holds the registry aggregates: versions, entries, pins.
package models

import (
	"encoding/json"
	"time"

	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
)

// VersionStatus is the governance state of a registry version.
type VersionStatus string

const (
	StatusDraft      VersionStatus = "draft"
	StatusPublished  VersionStatus = "published"
	StatusDeprecated VersionStatus = "deprecated"
)

// CanTransitionTo encodes the only legal edges: draft→published→deprecated.
func (s VersionStatus) CanTransitionTo(next VersionStatus) bool {
	switch s {
	case StatusDraft:
		return next == StatusPublished
	case StatusPublished:
		return next == StatusDeprecated
	default:
		return false
	}
}

// StateConflict messages surfaced verbatim to operators and audit logs.
const (
	ReasonRegistryImmutable = "REGISTRY_IMMUTABLE"
	ReasonNoEntries         = "no_entries"
)

// RegistryVersion is the aggregate root for one immutable formula collection.
//
// Invariants:
//   - ContentHash is assigned exactly once, at publish, from canonicalized entries
//   - A published or deprecated version's entries are never mutated
//   - Status transitions: draft → published → deprecated only
//
// Deprecation retains entries so any historical computation tied to this
// version's content hash stays exactly reproducible. A new version is the only
// way to change a formula.
type RegistryVersion struct {
	ID          id.VersionID  `json:"id"`
	Name        string        `json:"name"`
	Sequence    int           `json:"sequence"`
	ContentHash string        `json:"content_hash,omitempty"`
	Status      VersionStatus `json:"status"`
	PublishedAt *time.Time    `json:"published_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CreatedBy   string        `json:"created_by,omitempty"`
}

// CanPublish checks the publish transition: only drafts with at least one
// entry may publish. Use with ApplyPublish around a CAS store update.
func (v *RegistryVersion) CanPublish(entryCount int) error {
	if v.Status != StatusDraft {
		return dErrors.New(dErrors.CodeInvariantViolation, ReasonRegistryImmutable)
	}
	if entryCount == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, ReasonNoEntries)
	}
	return nil
}

// ApplyPublish stamps the content hash and publish time. Call CanPublish first.
func (v *RegistryVersion) ApplyPublish(contentHash string, now time.Time) {
	v.Status = StatusPublished
	v.ContentHash = contentHash
	v.PublishedAt = &now
	v.UpdatedAt = now
}

// CanDeprecate checks the deprecate transition: only published versions.
func (v *RegistryVersion) CanDeprecate() error {
	if v.Status != StatusPublished {
		return dErrors.New(dErrors.CodeInvariantViolation, "only published versions can be deprecated")
	}
	return nil
}

// ApplyDeprecate transitions to deprecated. Entries are retained for replay.
func (v *RegistryVersion) ApplyDeprecate(now time.Time) {
	v.Status = StatusDeprecated
	v.UpdatedAt = now
}

// IsDraft reports whether entries may still be appended.
func (v *RegistryVersion) IsDraft() bool { return v.Status == StatusDraft }

func NewRegistryVersion(versionID id.VersionID, name string, sequence int, createdBy string, now time.Time) (*RegistryVersion, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "version name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "version name must be 128 characters or less")
	}
	return &RegistryVersion{
		ID:        versionID,
		Name:      name,
		Sequence:  sequence,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: createdBy,
	}, nil
}

// RegistryEntry is one metric's formula definition within a version.
// MetricKey is unique per version; Definition is the raw governed JSON.
type RegistryEntry struct {
	ID                id.EntryID      `json:"id"`
	RegistryVersionID id.VersionID    `json:"registry_version_id"`
	MetricKey         string          `json:"metric_key"`
	Definition        json.RawMessage `json:"definition"`
	DefinitionHash    string          `json:"definition_hash"`
	CreatedAt         time.Time       `json:"created_at"`
}

// BankRegistryPin binds one tenant to a specific version, overriding the
// latest-published default. A pin may deliberately reference a deprecated
// version; resolution honors it verbatim.
type BankRegistryPin struct {
	ID                id.PinID     `json:"id"`
	BankID            id.BankID    `json:"bank_id"`
	RegistryVersionID id.VersionID `json:"registry_version_id"`
	PinnedAt          time.Time    `json:"pinned_at"`
	PinnedBy          string       `json:"pinned_by"`
	Reason            string       `json:"reason"`
}

// Binding is the resolved registry coordinate for a tenant: which version,
// under which content address. A nil Binding means "no registry bound" and
// callers must decide policy instead of defaulting.
type Binding struct {
	VersionID   id.VersionID `json:"version_id"`
	VersionName string       `json:"version_name"`
	ContentHash string       `json:"content_hash"`
}
