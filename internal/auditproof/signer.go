package auditproof

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "covenant/pkg/domain-errors"
)

const receiptIssuer = "covenant-auditproof"

// ReceiptClaims are the signed contents of an export receipt.
type ReceiptClaims struct {
	DealID      string `json:"deal_id"`
	PeriodID    string `json:"period_id"`
	OutputHash  string `json:"output_hash"`
	VersionID   string `json:"version_id"`
	ContentHash string `json:"content_hash"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HMAC-signed export receipts. Receipts carry the
// output hash and registry binding, so a verifier can re-run the computation
// and compare digests without trusting the database row.
type Signer struct {
	signingKey []byte
}

func NewSigner(signingKey string) *Signer {
	return &Signer{signingKey: []byte(signingKey)}
}

// Sign issues a receipt for the record. Receipts do not expire; a proof of a
// historical computation stays verifiable indefinitely.
func (s *Signer) Sign(record *Record, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ReceiptClaims{
		DealID:      record.DealID.String(),
		PeriodID:    record.PeriodID,
		OutputHash:  record.OutputHash,
		VersionID:   record.VersionID.String(),
		ContentHash: record.ContentHash,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   receiptIssuer,
			ID:       record.ID.String(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign export receipt")
	}
	return signed, nil
}

// Verify checks a receipt's signature and returns its claims.
func (s *Signer) Verify(receipt string) (*ReceiptClaims, error) {
	parsed, err := jwt.ParseWithClaims(receipt, &ReceiptClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(receiptIssuer))
	if err != nil || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid export receipt")
	}

	claims, ok := parsed.Claims.(*ReceiptClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid receipt claims")
	}
	return claims, nil
}

// Matches reports whether the claims attest the given record.
func (c *ReceiptClaims) Matches(record *Record) bool {
	if c == nil || record == nil {
		return false
	}
	return c.DealID == record.DealID.String() &&
		c.PeriodID == record.PeriodID &&
		c.OutputHash == record.OutputHash &&
		c.VersionID == record.VersionID.String() &&
		c.ContentHash == record.ContentHash
}

// ErrReceiptMismatch reports a stored record whose receipt attests different
// contents, meaning the row was altered after export.
var ErrReceiptMismatch = errors.New("export receipt does not match record")

// VerifyRecord checks that a stored record still matches its own receipt.
func (s *Signer) VerifyRecord(record *Record) error {
	claims, err := s.Verify(record.Receipt)
	if err != nil {
		return err
	}
	if !claims.Matches(record) {
		return ErrReceiptMismatch
	}
	return nil
}
