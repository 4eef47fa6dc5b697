package handler

import (
	"encoding/json"
	"time"

	"covenant/internal/registry/models"
)

// VersionResponse is the HTTP representation of a registry version.
type VersionResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Sequence    int        `json:"sequence"`
	Status      string     `json:"status"`
	ContentHash string     `json:"content_hash,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by,omitempty"`
}

// FromVersion converts a domain version to its HTTP response.
func FromVersion(v *models.RegistryVersion) *VersionResponse {
	return &VersionResponse{
		ID:          v.ID.String(),
		Name:        v.Name,
		Sequence:    v.Sequence,
		Status:      string(v.Status),
		ContentHash: v.ContentHash,
		PublishedAt: v.PublishedAt,
		CreatedAt:   v.CreatedAt,
		CreatedBy:   v.CreatedBy,
	}
}

// EntryResponse is the HTTP representation of a registry entry.
type EntryResponse struct {
	ID             string          `json:"id"`
	MetricKey      string          `json:"metric_key"`
	Definition     json.RawMessage `json:"definition"`
	DefinitionHash string          `json:"definition_hash"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FromEntry converts a domain entry to its HTTP response.
func FromEntry(e *models.RegistryEntry) *EntryResponse {
	return &EntryResponse{
		ID:             e.ID.String(),
		MetricKey:      e.MetricKey,
		Definition:     e.Definition,
		DefinitionHash: e.DefinitionHash,
		CreatedAt:      e.CreatedAt,
	}
}

// FromEntries converts a batch, preserving store order.
func FromEntries(entries []*models.RegistryEntry) []*EntryResponse {
	out := make([]*EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, FromEntry(e))
	}
	return out
}

// PinResponse is the HTTP representation of a bank pin.
type PinResponse struct {
	BankID            string    `json:"bank_id"`
	RegistryVersionID string    `json:"registry_version_id"`
	PinnedAt          time.Time `json:"pinned_at"`
	PinnedBy          string    `json:"pinned_by"`
	Reason            string    `json:"reason"`
}

// FromPin converts a domain pin to its HTTP response.
func FromPin(p *models.BankRegistryPin) *PinResponse {
	return &PinResponse{
		BankID:            p.BankID.String(),
		RegistryVersionID: p.RegistryVersionID.String(),
		PinnedAt:          p.PinnedAt,
		PinnedBy:          p.PinnedBy,
		Reason:            p.Reason,
	}
}

// BindingResponse is the HTTP representation of a resolved binding.
type BindingResponse struct {
	VersionID   string `json:"version_id"`
	VersionName string `json:"version_name"`
	ContentHash string `json:"content_hash"`
}

// FromBinding converts a resolved binding to its HTTP response.
func FromBinding(b *models.Binding) *BindingResponse {
	return &BindingResponse{
		VersionID:   b.VersionID.String(),
		VersionName: b.VersionName,
		ContentHash: b.ContentHash,
	}
}
