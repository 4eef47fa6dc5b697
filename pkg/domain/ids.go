// Package domain defines the typed identifiers shared across the engine.
//
// Each ID is a distinct type over uuid.UUID so the compiler rejects passing a
// bank ID where a version ID is expected. Parse* constructors enforce the
// invariant that IDs are valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "covenant/pkg/domain-errors"
)

type (
	// BankID identifies a tenant (lending institution).
	BankID uuid.UUID
	// VersionID identifies a registry version.
	VersionID uuid.UUID
	// EntryID identifies a formula entry within a version.
	EntryID uuid.UUID
	// PinID identifies a tenant pin row.
	PinID uuid.UUID
	// DealID identifies a lending deal whose facts are evaluated.
	DealID uuid.UUID
	// ProofID identifies an audit-proof export record.
	ProofID uuid.UUID
)

func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is required", kind)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is not a valid UUID", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id must be non-nil", kind)
	}
	return u, nil
}

// ParseBankID parses and validates a bank ID string.
func ParseBankID(raw string) (BankID, error) {
	u, err := parseUUID(raw, "bank")
	return BankID(u), err
}

// ParseVersionID parses and validates a registry version ID string.
func ParseVersionID(raw string) (VersionID, error) {
	u, err := parseUUID(raw, "version")
	return VersionID(u), err
}

// ParseEntryID parses and validates an entry ID string.
func ParseEntryID(raw string) (EntryID, error) {
	u, err := parseUUID(raw, "entry")
	return EntryID(u), err
}

// ParseDealID parses and validates a deal ID string.
func ParseDealID(raw string) (DealID, error) {
	u, err := parseUUID(raw, "deal")
	return DealID(u), err
}

// ParseProofID parses and validates an audit-proof record ID string.
func ParseProofID(raw string) (ProofID, error) {
	u, err := parseUUID(raw, "proof")
	return ProofID(u), err
}

func (id BankID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id VersionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id PinID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id DealID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ProofID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

func (id BankID) String() string    { return uuid.UUID(id).String() }
func (id VersionID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string   { return uuid.UUID(id).String() }
func (id PinID) String() string     { return uuid.UUID(id).String() }
func (id DealID) String() string    { return uuid.UUID(id).String() }
func (id ProofID) String() string   { return uuid.UUID(id).String() }

// Text marshaling keeps IDs as canonical UUID strings in JSON payloads.

func (id BankID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id VersionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EntryID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id PinID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id DealID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id ProofID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }

func (id *BankID) UnmarshalText(data []byte) error    { return (*uuid.UUID)(id).UnmarshalText(data) }
func (id *VersionID) UnmarshalText(data []byte) error { return (*uuid.UUID)(id).UnmarshalText(data) }
func (id *EntryID) UnmarshalText(data []byte) error   { return (*uuid.UUID)(id).UnmarshalText(data) }
func (id *PinID) UnmarshalText(data []byte) error     { return (*uuid.UUID)(id).UnmarshalText(data) }
func (id *DealID) UnmarshalText(data []byte) error    { return (*uuid.UUID)(id).UnmarshalText(data) }
func (id *ProofID) UnmarshalText(data []byte) error   { return (*uuid.UUID)(id).UnmarshalText(data) }
