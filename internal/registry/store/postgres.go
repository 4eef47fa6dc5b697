package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"covenant/internal/registry/models"
	id "covenant/pkg/domain"
	"covenant/pkg/platform/sentinel"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// Schema is the DDL this store expects. Applied by migrations in production
// and by the integration test against a throwaway container.
const Schema = `
CREATE TABLE IF NOT EXISTS registry_versions (
	id             UUID PRIMARY KEY,
	version_name   TEXT NOT NULL,
	version_number INT  NOT NULL,
	content_hash   TEXT,
	status         TEXT NOT NULL,
	published_at   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	created_by     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS registry_entries (
	id                  UUID PRIMARY KEY,
	registry_version_id UUID NOT NULL REFERENCES registry_versions(id),
	metric_key          TEXT NOT NULL,
	definition_json     JSONB NOT NULL,
	definition_hash     TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (registry_version_id, metric_key)
);

CREATE TABLE IF NOT EXISTS bank_registry_pins (
	id                  UUID PRIMARY KEY,
	bank_id             UUID NOT NULL UNIQUE,
	registry_version_id UUID NOT NULL REFERENCES registry_versions(id),
	pinned_at           TIMESTAMPTZ NOT NULL,
	pinned_by           TEXT NOT NULL DEFAULT '',
	reason              TEXT NOT NULL DEFAULT ''
);
`

// Postgres implements VersionStore, EntryStore, and PinStore on pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Create(ctx context.Context, version *models.RegistryVersion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registry_versions
			(id, version_name, version_number, content_hash, status, published_at, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		uuid.UUID(version.ID), version.Name, version.Sequence, version.ContentHash,
		string(version.Status), version.PublishedAt, version.CreatedAt, version.UpdatedAt, version.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert registry version: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, versionID id.VersionID) (*models.RegistryVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, version_name, version_number, COALESCE(content_hash, ''), status, published_at, created_at, updated_at, created_by
		FROM registry_versions WHERE id = $1`,
		uuid.UUID(versionID),
	)
	return scanVersion(row)
}

func (s *Postgres) LatestPublished(ctx context.Context) (*models.RegistryVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, version_name, version_number, COALESCE(content_hash, ''), status, published_at, created_at, updated_at, created_by
		FROM registry_versions
		WHERE status = $1 AND published_at IS NOT NULL
		ORDER BY published_at DESC
		LIMIT 1`,
		string(models.StatusPublished),
	)
	return scanVersion(row)
}

func (s *Postgres) NextSequence(ctx context.Context) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM registry_versions`,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version sequence: %w", err)
	}
	return next, nil
}

// TransitionStatus is the CAS write: the WHERE clause carries the expected
// prior status so a lost race updates zero rows instead of clobbering.
func (s *Postgres) TransitionStatus(ctx context.Context, version *models.RegistryVersion, expected models.VersionStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE registry_versions
		SET status = $1, content_hash = NULLIF($2, ''), published_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		string(version.Status), version.ContentHash, version.PublishedAt, version.UpdatedAt,
		uuid.UUID(version.ID), string(expected),
	)
	if err != nil {
		return fmt.Errorf("transition registry version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a failed guard.
		var exists bool
		if scanErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM registry_versions WHERE id = $1)`,
			uuid.UUID(version.ID),
		).Scan(&exists); scanErr != nil {
			return fmt.Errorf("transition registry version: %w", scanErr)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Postgres) SetContentHash(ctx context.Context, versionID id.VersionID, contentHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE registry_versions SET content_hash = $1
		WHERE id = $2 AND content_hash IS NULL`,
		contentHash, uuid.UUID(versionID),
	)
	if err != nil {
		return fmt.Errorf("set content hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if scanErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM registry_versions WHERE id = $1)`,
			uuid.UUID(versionID),
		).Scan(&exists); scanErr != nil {
			return fmt.Errorf("set content hash: %w", scanErr)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		// Hash already present: first writer wins, nothing to do.
	}
	return nil
}

func (s *Postgres) Add(ctx context.Context, entry *models.RegistryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registry_entries (id, registry_version_id, metric_key, definition_json, definition_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(entry.ID), uuid.UUID(entry.RegistryVersionID), entry.MetricKey,
		[]byte(entry.Definition), entry.DefinitionHash, entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert registry entry: %w", err)
	}
	return nil
}

func (s *Postgres) ListByVersion(ctx context.Context, versionID id.VersionID) ([]*models.RegistryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, registry_version_id, metric_key, definition_json, definition_hash, created_at
		FROM registry_entries
		WHERE registry_version_id = $1
		ORDER BY metric_key`,
		uuid.UUID(versionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.RegistryEntry
	for rows.Next() {
		var (
			entryID    uuid.UUID
			verID      uuid.UUID
			entry      models.RegistryEntry
			definition []byte
		)
		if err := rows.Scan(&entryID, &verID, &entry.MetricKey, &definition, &entry.DefinitionHash, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		entry.ID = id.EntryID(entryID)
		entry.RegistryVersionID = id.VersionID(verID)
		entry.Definition = definition
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *Postgres) CountByVersion(ctx context.Context, versionID id.VersionID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM registry_entries WHERE registry_version_id = $1`,
		uuid.UUID(versionID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registry entries: %w", err)
	}
	return count, nil
}

func (s *Postgres) Upsert(ctx context.Context, pin *models.BankRegistryPin) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bank_registry_pins (id, bank_id, registry_version_id, pinned_at, pinned_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bank_id) DO UPDATE
		SET registry_version_id = EXCLUDED.registry_version_id,
		    pinned_at = EXCLUDED.pinned_at,
		    pinned_by = EXCLUDED.pinned_by,
		    reason = EXCLUDED.reason`,
		uuid.UUID(pin.ID), uuid.UUID(pin.BankID), uuid.UUID(pin.RegistryVersionID),
		pin.PinnedAt, pin.PinnedBy, pin.Reason,
	)
	if err != nil {
		return fmt.Errorf("upsert bank pin: %w", err)
	}
	return nil
}

func (s *Postgres) FindByBank(ctx context.Context, bankID id.BankID) (*models.BankRegistryPin, error) {
	var (
		pinID uuid.UUID
		bank  uuid.UUID
		verID uuid.UUID
		pin   models.BankRegistryPin
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, bank_id, registry_version_id, pinned_at, pinned_by, reason
		FROM bank_registry_pins WHERE bank_id = $1`,
		uuid.UUID(bankID),
	).Scan(&pinID, &bank, &verID, &pin.PinnedAt, &pin.PinnedBy, &pin.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find bank pin: %w", err)
	}
	pin.ID = id.PinID(pinID)
	pin.BankID = id.BankID(bank)
	pin.RegistryVersionID = id.VersionID(verID)
	return &pin, nil
}

func (s *Postgres) Delete(ctx context.Context, bankID id.BankID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bank_registry_pins WHERE bank_id = $1`,
		uuid.UUID(bankID),
	)
	if err != nil {
		return fmt.Errorf("delete bank pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.RegistryVersion, error) {
	var (
		verID       uuid.UUID
		version     models.RegistryVersion
		status      string
		publishedAt *time.Time
	)
	err := row.Scan(&verID, &version.Name, &version.Sequence, &version.ContentHash,
		&status, &publishedAt, &version.CreatedAt, &version.UpdatedAt, &version.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan registry version: %w", err)
	}
	version.ID = id.VersionID(verID)
	version.Status = models.VersionStatus(status)
	version.PublishedAt = publishedAt
	return &version, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
