// Package audit defines governance audit events and the publisher contract.
//
// Registry governance (publish, deprecate, pin) happens rarely but must leave
// a durable trail: every transition is emitted as an Event carrying the
// registry binding it affected so downstream compliance tooling can replay
// exactly which formulas were live for which tenant at any time.
package audit

import (
	"context"
	"time"
)

// Event is emitted from governance logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	Action    string
	// BankID is set for tenant-scoped actions (pin/unpin). Empty otherwise.
	BankID string
	// VersionID and ContentHash record the registry binding the action touched.
	// ContentHash is empty for actions on draft versions, which have no hash yet.
	VersionID   string
	ContentHash string
	// Actor is the acting principal from request context.
	Actor string
	// Reason carries the operator-supplied justification (pins require one).
	Reason string
	// RequestID is the correlation ID from HTTP request context.
	RequestID string
}

// AuditEvent enumerates the governance actions worth a durable trail.
type AuditEvent string

const (
	EventVersionCreated    AuditEvent = "registry_version_created"
	EventEntryAdded        AuditEvent = "registry_entry_added"
	EventVersionPublished  AuditEvent = "registry_version_published"
	EventVersionDeprecated AuditEvent = "registry_version_deprecated"
	EventBankPinned        AuditEvent = "bank_pinned"
	EventBankUnpinned      AuditEvent = "bank_unpinned"
	EventSnapshotExported  AuditEvent = "snapshot_exported"
)

// Publisher is the sink governance services emit through. The in-memory
// publisher backs tests; the Kafka publisher backs production.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}
