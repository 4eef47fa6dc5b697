// Package auditproof exports tamper-evident computation receipts.
//
// Every exported snapshot is recorded with its output hash and the registry
// binding (version id + content hash) it was computed under, plus a signed
// receipt. Replaying the computation against the recorded binding and
// re-hashing the outputs proves the stored figures were not altered.
package auditproof

import (
	"time"

	id "covenant/pkg/domain"
)

// Record ties one exported snapshot to its registry binding.
type Record struct {
	ID          id.ProofID   `json:"id"`
	DealID      id.DealID    `json:"deal_id"`
	PeriodID    string       `json:"period_id"`
	OutputHash  string       `json:"output_hash"`
	VersionID   id.VersionID `json:"version_id"`
	ContentHash string       `json:"content_hash"`
	GeneratedAt time.Time    `json:"generated_at"`
	// Receipt is the signed JWT over the fields above.
	Receipt string `json:"receipt"`
}
