package handler

import (
	"encoding/json"
	"strings"

	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
)

// CreateVersionRequest is the HTTP request body for POST /admin/registry/versions.
type CreateVersionRequest struct {
	Name string `json:"name"`
}

// Validate validates the request.
func (r *CreateVersionRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len(r.Name) > 128 {
		return dErrors.New(dErrors.CodeValidation, "name must be at most 128 characters")
	}
	return nil
}

// AddEntryRequest is the HTTP request body for adding a formula entry.
// Definition is passed through untouched; the mapper validates its shape.
type AddEntryRequest struct {
	MetricKey  string          `json:"metric_key"`
	Definition json.RawMessage `json:"definition"`
}

// Validate validates the request.
func (r *AddEntryRequest) Validate() error {
	r.MetricKey = strings.TrimSpace(r.MetricKey)
	if r.MetricKey == "" {
		return dErrors.New(dErrors.CodeValidation, "metric_key is required")
	}
	if len(r.Definition) == 0 {
		return dErrors.New(dErrors.CodeValidation, "definition is required")
	}
	return nil
}

// PinBankRequest is the HTTP request body for PUT /admin/banks/{bankID}/pin.
type PinBankRequest struct {
	RegistryVersionID string `json:"registry_version_id"`
	Reason            string `json:"reason"`

	parsedVersionID id.VersionID
}

// Validate validates and parses the request.
func (r *PinBankRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}

	versionID, err := id.ParseVersionID(r.RegistryVersionID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "registry_version_id is not a valid UUID")
	}
	r.parsedVersionID = versionID
	return nil
}

// ParsedVersionID returns the validated version ID.
func (r *PinBankRequest) ParsedVersionID() id.VersionID {
	return r.parsedVersionID
}
