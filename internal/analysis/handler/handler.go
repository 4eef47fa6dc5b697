package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"covenant/internal/analysis/models"
	"covenant/internal/analysis/service"
	"covenant/internal/auditproof"
	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/platform/httputil"
	"covenant/pkg/requestcontext"
)

// Service defines the evaluation operations the handler exposes.
type Service interface {
	IngestFacts(ctx context.Context, dealID id.DealID, periods []*models.FinancialPeriod, instruments []*models.DebtInstrument) error
	BuildSnapshot(ctx context.Context, req service.BuildRequest) (*service.Result, error)
	ProofsForDeal(ctx context.Context, dealID id.DealID) ([]*auditproof.Record, error)
}

// Handler wires evaluation endpoints to the analysis service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an analysis handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the evaluation endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Put("/deals/{dealID}/facts", h.HandleIngestFacts)
	r.Post("/deals/{dealID}/snapshot", h.HandleBuildSnapshot)
	r.Get("/deals/{dealID}/proofs", h.HandleListProofs)
}

// HandleIngestFacts handles PUT /deals/{dealID}/facts.
func (h *Handler) HandleIngestFacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dealID, err := dealIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[IngestFactsRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.IngestFacts(ctx, dealID, req.Periods, req.Instruments); err != nil {
		h.logError(ctx, "fact ingestion failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "facts ingested",
		"request_id", requestcontext.RequestID(ctx),
		"deal_id", dealID,
		"periods", len(req.Periods),
		"instruments", len(req.Instruments),
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleBuildSnapshot handles POST /deals/{dealID}/snapshot.
func (h *Handler) HandleBuildSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	dealID, err := dealIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[BuildSnapshotRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.BuildSnapshot(ctx, req.ToBuildRequest(dealID))
	if err != nil {
		h.logError(ctx, "snapshot build failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "snapshot served",
		"request_id", requestcontext.RequestID(ctx),
		"deal_id", dealID,
		"valid", result.Validation.Valid,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleListProofs handles GET /deals/{dealID}/proofs.
func (h *Handler) HandleListProofs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dealID, err := dealIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.ProofsForDeal(ctx, dealID)
	if err != nil {
		h.logError(ctx, "proof listing failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) logError(ctx context.Context, message string, err error) {
	h.logger.ErrorContext(ctx, message,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

func dealIDParam(r *http.Request) (id.DealID, error) {
	dealID, err := id.ParseDealID(chi.URLParam(r, "dealID"))
	if err != nil {
		return id.DealID{}, dErrors.New(dErrors.CodeBadRequest, "deal id is not a valid UUID")
	}
	return dealID, nil
}
