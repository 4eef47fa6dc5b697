package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"covenant/internal/registry/models"
	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/platform/httputil"
	"covenant/pkg/requestcontext"
)

// Service defines the registry governance operations the handler exposes.
type Service interface {
	CreateVersion(ctx context.Context, name string) (*models.RegistryVersion, error)
	GetVersion(ctx context.Context, versionID id.VersionID) (*models.RegistryVersion, error)
	AddEntry(ctx context.Context, versionID id.VersionID, metricKey string, definition json.RawMessage) (*models.RegistryEntry, error)
	PublishVersion(ctx context.Context, versionID id.VersionID) (*models.RegistryVersion, error)
	DeprecateVersion(ctx context.Context, versionID id.VersionID) (*models.RegistryVersion, error)
	ListEntries(ctx context.Context, versionID id.VersionID) ([]*models.RegistryEntry, error)
	PinBank(ctx context.Context, bankID id.BankID, versionID id.VersionID, reason string) (*models.BankRegistryPin, error)
	UnpinBank(ctx context.Context, bankID id.BankID) error
	ResolveBinding(ctx context.Context, bankID *id.BankID) (*models.Binding, error)
}

// Handler wires registry governance endpoints to the registry service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a registry handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterAdmin mounts the governance endpoints. Callers must wrap the router
// in admin authentication; the handler assumes the caller is authorized.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/registry/versions", h.HandleCreateVersion)
	r.Get("/registry/versions/{versionID}", h.HandleGetVersion)
	r.Post("/registry/versions/{versionID}/entries", h.HandleAddEntry)
	r.Get("/registry/versions/{versionID}/entries", h.HandleListEntries)
	r.Post("/registry/versions/{versionID}/publish", h.HandlePublishVersion)
	r.Post("/registry/versions/{versionID}/deprecate", h.HandleDeprecateVersion)
	r.Put("/banks/{bankID}/pin", h.HandlePinBank)
	r.Delete("/banks/{bankID}/pin", h.HandleUnpinBank)
}

// Register mounts the read-side endpoints available without admin auth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/registry/binding", h.HandleResolveBinding)
}

// HandleCreateVersion handles POST /admin/registry/versions.
func (h *Handler) HandleCreateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[CreateVersionRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	version, err := h.service.CreateVersion(ctx, req.Name)
	if err != nil {
		h.logError(ctx, "create registry version failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "registry version created",
		"request_id", requestcontext.RequestID(ctx),
		"version_id", version.ID,
		"sequence", version.Sequence,
	)
	httputil.WriteJSON(w, http.StatusCreated, FromVersion(version))
}

// HandleGetVersion handles GET /admin/registry/versions/{versionID}.
func (h *Handler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	versionID, err := versionIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	version, err := h.service.GetVersion(ctx, versionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVersion(version))
}

// HandleAddEntry handles POST /admin/registry/versions/{versionID}/entries.
func (h *Handler) HandleAddEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	versionID, err := versionIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[AddEntryRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.service.AddEntry(ctx, versionID, req.MetricKey, req.Definition)
	if err != nil {
		h.logError(ctx, "add registry entry failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "registry entry added",
		"request_id", requestcontext.RequestID(ctx),
		"version_id", versionID,
		"metric_key", entry.MetricKey,
	)
	httputil.WriteJSON(w, http.StatusCreated, FromEntry(entry))
}

// HandleListEntries handles GET /admin/registry/versions/{versionID}/entries.
func (h *Handler) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	versionID, err := versionIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.service.ListEntries(ctx, versionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntries(entries))
}

// HandlePublishVersion handles POST /admin/registry/versions/{versionID}/publish.
func (h *Handler) HandlePublishVersion(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "registry version published", h.service.PublishVersion)
}

// HandleDeprecateVersion handles POST /admin/registry/versions/{versionID}/deprecate.
func (h *Handler) HandleDeprecateVersion(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "registry version deprecated", h.service.DeprecateVersion)
}

func (h *Handler) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	message string,
	transition func(context.Context, id.VersionID) (*models.RegistryVersion, error),
) {
	ctx := r.Context()
	start := time.Now()

	versionID, err := versionIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	version, err := transition(ctx, versionID)
	if err != nil {
		h.logError(ctx, "registry version transition failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, message,
		"request_id", requestcontext.RequestID(ctx),
		"version_id", version.ID,
		"content_hash", version.ContentHash,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromVersion(version))
}

// HandlePinBank handles PUT /admin/banks/{bankID}/pin.
func (h *Handler) HandlePinBank(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bankID, err := bankIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[PinBankRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	pin, err := h.service.PinBank(ctx, bankID, req.ParsedVersionID(), req.Reason)
	if err != nil {
		h.logError(ctx, "pin bank failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "bank pinned",
		"request_id", requestcontext.RequestID(ctx),
		"bank_id", bankID,
		"version_id", pin.RegistryVersionID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromPin(pin))
}

// HandleUnpinBank handles DELETE /admin/banks/{bankID}/pin.
func (h *Handler) HandleUnpinBank(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bankID, err := bankIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.UnpinBank(ctx, bankID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "bank unpinned",
		"request_id", requestcontext.RequestID(ctx),
		"bank_id", bankID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleResolveBinding handles GET /registry/binding?bank_id=...
//
// A missing bank_id resolves the global latest-published binding. A 404 here
// means no registry is bound at all; callers must not fall back to defaults.
func (h *Handler) HandleResolveBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var bankID *id.BankID
	if raw := r.URL.Query().Get("bank_id"); raw != "" {
		parsed, err := id.ParseBankID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "bank_id is not a valid UUID"))
			return
		}
		bankID = &parsed
	}

	binding, err := h.service.ResolveBinding(ctx, bankID)
	if err != nil {
		h.logError(ctx, "resolve binding failed", err)
		httputil.WriteError(w, err)
		return
	}
	if binding == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no registry version is bound"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromBinding(binding))
}

func (h *Handler) logError(ctx context.Context, message string, err error) {
	h.logger.ErrorContext(ctx, message,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

func versionIDParam(r *http.Request) (id.VersionID, error) {
	versionID, err := id.ParseVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		return id.VersionID{}, dErrors.New(dErrors.CodeBadRequest, "version id is not a valid UUID")
	}
	return versionID, nil
}

func bankIDParam(r *http.Request) (id.BankID, error) {
	bankID, err := id.ParseBankID(chi.URLParam(r, "bankID"))
	if err != nil {
		return id.BankID{}, dErrors.New(dErrors.CodeBadRequest, "bank id is not a valid UUID")
	}
	return bankID, nil
}
