package handler

import (
	"covenant/internal/analysis/models"
	"covenant/internal/analysis/period"
	"covenant/internal/analysis/service"
	"covenant/internal/analysis/snapshot"
	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
)

// IngestFactsRequest is the HTTP request body for PUT /deals/{dealID}/facts.
// It mirrors the upstream producer's delivery verbatim.
type IngestFactsRequest struct {
	Periods     []*models.FinancialPeriod `json:"periods"`
	Instruments []*models.DebtInstrument  `json:"instruments"`
}

// BuildSnapshotRequest is the HTTP request body for POST /deals/{dealID}/snapshot.
type BuildSnapshotRequest struct {
	BankID        string `json:"bank_id"`
	Strategy      string `json:"strategy"`
	PeriodID      string `json:"period_id"`
	BusinessModel string `json:"business_model"`

	parsedBankID *id.BankID
}

// Validate validates and parses the request.
func (r *BuildSnapshotRequest) Validate() error {
	if r.BankID != "" {
		bankID, err := id.ParseBankID(r.BankID)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "bank_id is not a valid UUID")
		}
		r.parsedBankID = &bankID
	}

	switch period.Strategy(r.Strategy) {
	case "", period.LatestFY, period.LatestTTM, period.LatestAvailable:
	case period.Explicit:
		if r.PeriodID == "" {
			return dErrors.New(dErrors.CodeValidation, "period_id is required for EXPLICIT selection")
		}
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown selection strategy %q", r.Strategy)
	}

	switch snapshot.BusinessModel(r.BusinessModel) {
	case "", snapshot.RealEstate, snapshot.OperatingCompany, snapshot.Mixed:
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown business model %q", r.BusinessModel)
	}
	return nil
}

// ToBuildRequest converts the validated request to the domain form.
func (r *BuildSnapshotRequest) ToBuildRequest(dealID id.DealID) service.BuildRequest {
	return service.BuildRequest{
		DealID:        dealID,
		BankID:        r.parsedBankID,
		Strategy:      period.Strategy(r.Strategy),
		PeriodID:      r.PeriodID,
		BusinessModel: snapshot.BusinessModel(r.BusinessModel),
	}
}
