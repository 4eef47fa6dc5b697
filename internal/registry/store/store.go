// Package store defines the persistence contract for registry versions,
// entries, and tenant pins, plus the in-memory and Postgres implementations.
//
// Stores return sentinel errors; services translate them into coded domain
// errors at the boundary. The two governed transitions (publish, deprecate)
// are compare-and-swap: the store only applies them when the row's current
// status matches the expected prior state, so two concurrent publishers
// cannot both succeed and a deprecate cannot race a publish.
package store

import (
	"context"

	"covenant/internal/registry/models"
	id "covenant/pkg/domain"
)

// VersionStore persists registry versions.
type VersionStore interface {
	// Create inserts a new draft version. The store assigns no fields; the
	// caller supplies a fully built aggregate.
	Create(ctx context.Context, version *models.RegistryVersion) error

	// FindByID loads a version. Returns sentinel.ErrNotFound when absent.
	FindByID(ctx context.Context, versionID id.VersionID) (*models.RegistryVersion, error)

	// LatestPublished returns the published version with the most recent
	// publish time, or sentinel.ErrNotFound when none exists.
	LatestPublished(ctx context.Context) (*models.RegistryVersion, error)

	// NextSequence returns the next version sequence number.
	NextSequence(ctx context.Context) (int, error)

	// TransitionStatus writes version's status, content hash, publish time and
	// updated time, guarded on the stored row still having the expected
	// status. Returns sentinel.ErrInvalidState when the guard fails and
	// sentinel.ErrNotFound when the row is absent.
	TransitionStatus(ctx context.Context, version *models.RegistryVersion, expected models.VersionStatus) error

	// SetContentHash backfills a hash computed lazily during resolution.
	// It never overwrites a non-empty stored hash.
	SetContentHash(ctx context.Context, versionID id.VersionID, contentHash string) error
}

// EntryStore persists formula entries.
type EntryStore interface {
	// Add inserts an entry. Returns sentinel.ErrConflict when the version
	// already has an entry for the same metric key.
	Add(ctx context.Context, entry *models.RegistryEntry) error

	// ListByVersion returns a version's entries ordered by metric key.
	ListByVersion(ctx context.Context, versionID id.VersionID) ([]*models.RegistryEntry, error)

	// CountByVersion returns how many entries a version holds.
	CountByVersion(ctx context.Context, versionID id.VersionID) (int, error)
}

// PinStore persists tenant pins. At most one live pin per bank.
type PinStore interface {
	// Upsert creates or replaces the bank's live pin.
	Upsert(ctx context.Context, pin *models.BankRegistryPin) error

	// FindByBank returns the bank's live pin or sentinel.ErrNotFound.
	FindByBank(ctx context.Context, bankID id.BankID) (*models.BankRegistryPin, error)

	// Delete removes the bank's live pin. Returns sentinel.ErrNotFound when
	// no pin exists.
	Delete(ctx context.Context, bankID id.BankID) error
}
