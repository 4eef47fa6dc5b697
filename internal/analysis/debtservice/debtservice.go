// Package debtservice harmonizes an annual debt-service figure from either
// an income-statement proxy or a debt-instrument portfolio.
package debtservice

import (
	"covenant/internal/analysis/models"
)

// ComputeForPeriod derives debt service from the period's interest expense.
//
// The proxy path treats historical interest as the whole of existing debt
// service. Proposed is always absent here: amortizing proposed debt needs
// loan assumptions that historical interest cannot supply. Absent interest
// or an unknown period id yields an absent total with a named
// missing-component diagnostic, never a fabricated figure.
func ComputeForPeriod(periods []*models.FinancialPeriod, periodID string) models.DebtServiceResult {
	result := models.DebtServiceResult{
		Diagnostics: models.DebtServiceDiagnostics{Source: models.SourceInterestProxy},
	}

	p := findPeriod(periods, periodID)
	if p == nil {
		result.Diagnostics.MissingComponents = []string{"period:" + periodID}
		return result
	}

	interest := p.Income.Interest
	if !interest.Defined() {
		result.Diagnostics.MissingComponents = []string{"interest"}
		return result
	}

	result.TotalDebtService = interest
	result.Breakdown.Existing = interest
	return result
}

// ComputeFromPortfolio annualizes an instrument portfolio into a debt-service
// figure aligned to the selected period's cadence.
//
// Each instrument contributes Payment * PaymentsPerYear, scaled by
// months/12 when the period covers less than a year. Invalid instruments
// (absent payment, non-positive cadence) are recorded in MissingComponents
// by id and skipped; one bad facility never voids the rest of the portfolio.
// An empty or fully-invalid portfolio yields an absent total.
func ComputeFromPortfolio(instruments []*models.DebtInstrument, p *models.FinancialPeriod) models.DebtServiceResult {
	result := models.DebtServiceResult{
		Diagnostics: models.DebtServiceDiagnostics{Source: models.SourceInstrumentPortfolio},
	}
	if p == nil {
		result.Diagnostics.MissingComponents = []string{"period"}
		return result
	}

	scale := cadenceScale(p)
	var existing, proposed float64
	var haveExisting, haveProposed bool

	for _, inst := range instruments {
		if !inst.Payment.Defined() || inst.PaymentsPerYear <= 0 {
			result.Diagnostics.MissingComponents = append(result.Diagnostics.MissingComponents, inst.InstrumentID)
			continue
		}
		annual := inst.Payment.Float() * float64(inst.PaymentsPerYear) * scale
		switch inst.Tag {
		case models.TagProposed:
			proposed += annual
			haveProposed = true
		default:
			existing += annual
			haveExisting = true
		}
	}

	if !haveExisting && !haveProposed {
		return result
	}

	if haveExisting {
		result.Breakdown.Existing = models.Present(existing)
	}
	if haveProposed {
		result.Breakdown.Proposed = models.Present(proposed)
	}
	result.TotalDebtService = models.Present(existing + proposed)
	return result
}

// cadenceScale aligns annual figures to the period's coverage. FYE and TTM
// windows cover twelve months; an interim window scales down proportionally.
func cadenceScale(p *models.FinancialPeriod) float64 {
	if p.Months <= 0 || p.Months >= 12 {
		return 1
	}
	return float64(p.Months) / 12
}

func findPeriod(periods []*models.FinancialPeriod, periodID string) *models.FinancialPeriod {
	for _, p := range periods {
		if p.PeriodID == periodID {
			return p
		}
	}
	return nil
}
