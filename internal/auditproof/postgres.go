package auditproof

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	id "covenant/pkg/domain"
	"covenant/pkg/platform/sentinel"
)

// PostgresSchema creates the audit proof table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS audit_proofs (
    id UUID PRIMARY KEY,
    deal_id UUID NOT NULL,
    period_id TEXT NOT NULL,
    output_hash TEXT NOT NULL,
    registry_version_id UUID NOT NULL,
    content_hash TEXT NOT NULL,
    generated_at TIMESTAMPTZ NOT NULL,
    receipt TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_proofs_deal ON audit_proofs (deal_id, generated_at);
`

// PostgresStore persists export records in PostgreSQL. The table is
// append-only; each save is a single autocommitted insert.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO audit_proofs
			(id, deal_id, period_id, output_hash, registry_version_id, content_hash, generated_at, receipt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID.String(), record.DealID.String(), record.PeriodID, record.OutputHash,
		record.VersionID.String(), record.ContentHash, record.GeneratedAt, record.Receipt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save audit proof: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, proofID id.ProofID) (*Record, error) {
	query := `
		SELECT id, deal_id, period_id, output_hash, registry_version_id, content_hash, generated_at, receipt
		FROM audit_proofs WHERE id = $1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, proofID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find audit proof: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListByDeal(ctx context.Context, dealID id.DealID) ([]*Record, error) {
	query := `
		SELECT id, deal_id, period_id, output_hash, registry_version_id, content_hash, generated_at, receipt
		FROM audit_proofs WHERE deal_id = $1 ORDER BY generated_at
	`
	rows, err := s.db.QueryContext(ctx, query, dealID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit proofs: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit proof: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var proofID, dealID, versionID string
	if err := row.Scan(&proofID, &dealID, &record.PeriodID, &record.OutputHash,
		&versionID, &record.ContentHash, &record.GeneratedAt, &record.Receipt); err != nil {
		return nil, err
	}

	parsedProof, err := id.ParseProofID(proofID)
	if err != nil {
		return nil, err
	}
	parsedDeal, err := id.ParseDealID(dealID)
	if err != nil {
		return nil, err
	}
	parsedVersion, err := id.ParseVersionID(versionID)
	if err != nil {
		return nil, err
	}
	record.ID = parsedProof
	record.DealID = parsedDeal
	record.VersionID = parsedVersion
	return &record, nil
}
