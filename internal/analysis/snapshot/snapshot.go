// Package snapshot assembles and validates the per-request credit snapshot.
package snapshot

import (
	"math"
	"time"

	"covenant/internal/analysis/models"
	"covenant/internal/analysis/period"
	registrymodels "covenant/internal/registry/models"
	id "covenant/pkg/domain"
)

// BusinessModel classifies the borrower for validation purposes.
type BusinessModel string

const (
	RealEstate       BusinessModel = "real_estate"
	OperatingCompany BusinessModel = "operating_company"
	Mixed            BusinessModel = "mixed"
)

// CreditSnapshot is the complete evaluation output for one deal: the registry
// binding it was computed under, the selected period with its selection
// diagnostics, the harmonized debt service and all ratio results.
//
// Snapshots are computed fresh per request and never cached across a registry
// version change; Binding records exactly which formulas were live.
type CreditSnapshot struct {
	DealID      id.DealID                `json:"deal_id"`
	Binding     *registrymodels.Binding  `json:"binding,omitempty"`
	Selection   period.Selection         `json:"selection"`
	DebtService models.DebtServiceResult `json:"debt_service"`
	Ratios      models.RatioBundle       `json:"ratios"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// Issue is one validation finding against a named metric.
type Issue struct {
	Metric string `json:"metric"`
	Issue  string `json:"issue"`
}

// Issue kinds.
const (
	IssueMissing      = "missing"
	IssueNaN          = "nan"
	IssueInfinite     = "infinite"
	IssueDivideByZero = "divide_by_zero"
)

// Report is the validation outcome. Valid iff there are no errors; warnings
// never block rendering.
type Report struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// requiredMetrics lists the metrics a snapshot must carry per business model.
// Real-estate underwriting centers on debt coverage; operating-company
// analysis additionally needs leverage, liquidity and margins.
var requiredMetrics = map[BusinessModel][]string{
	RealEstate: {models.MetricDSCR},
	OperatingCompany: {
		models.MetricDSCR,
		models.MetricLeverage,
		models.MetricCurrentRatio,
		models.MetricEBITDAMargin,
		models.MetricNetMargin,
	},
	Mixed: {
		models.MetricDSCR,
		models.MetricLeverage,
		models.MetricCurrentRatio,
		models.MetricEBITDAMargin,
		models.MetricNetMargin,
	},
}

// metricLTV is registry-governed rather than core-computed; it joins the
// cross-check whenever a snapshot carries it.
const metricLTV = "ltv"

// denominatorByMetric is the fixed ratio/denominator cross-check table. A
// ratio carrying a value while its recorded denominator input is exactly zero
// means an upstream producer bypassed the safe primitives.
var denominatorByMetric = map[string]string{
	models.MetricDSCR:         "totalDebtService",
	models.MetricLeverage:     "ebitda",
	models.MetricCurrentRatio: "shortTermDebt",
	models.MetricQuickRatio:   "shortTermDebt",
	models.MetricEBITDAMargin: "revenue",
	models.MetricNetMargin:    "revenue",
	metricLTV:                 "collateralValue",
}

// ValidateForRender gates a snapshot before it reaches report rendering.
//
// Errors: a required metric (per business model) with an absent value, and
// any NaN or infinite numeric anywhere in the results. Warnings: zero
// denominators behind non-null ratios, and registry-applicable metrics absent
// from the snapshot that are not already required-metric errors.
func ValidateForRender(snap *CreditSnapshot, businessModel BusinessModel, applicableKeys []string) Report {
	var report Report
	if snap == nil {
		report.Errors = append(report.Errors, Issue{Metric: "snapshot", Issue: IssueMissing})
		return report
	}

	erroredMetrics := make(map[string]bool)

	for _, key := range requiredMetrics[businessModel] {
		result, ok := snap.Ratios.Metrics[key]
		if !ok || !result.Value.Defined() {
			report.Errors = append(report.Errors, Issue{Metric: key, Issue: IssueMissing})
			erroredMetrics[key] = true
		}
	}

	for key, result := range snap.Ratios.Metrics {
		if issue, bad := finiteness(result.Value); bad {
			report.Errors = append(report.Errors, Issue{Metric: key, Issue: issue})
			erroredMetrics[key] = true
		}
		for inputName, input := range result.Inputs {
			if issue, bad := finiteness(input); bad {
				report.Errors = append(report.Errors, Issue{Metric: key + "." + inputName, Issue: issue})
			}
		}
	}
	for name, v := range map[string]models.Value{
		"debtService.total":    snap.DebtService.TotalDebtService,
		"debtService.existing": snap.DebtService.Breakdown.Existing,
		"debtService.proposed": snap.DebtService.Breakdown.Proposed,
	} {
		if issue, bad := finiteness(v); bad {
			report.Errors = append(report.Errors, Issue{Metric: name, Issue: issue})
		}
	}
	for name, v := range periodFacts(snap.Selection.Period) {
		if issue, bad := finiteness(v); bad {
			report.Errors = append(report.Errors, Issue{Metric: name, Issue: issue})
		}
	}

	for key, denName := range denominatorByMetric {
		result, ok := snap.Ratios.Metrics[key]
		if !ok || !result.Value.Defined() {
			continue
		}
		den, ok := result.Inputs[denName]
		if ok && den.Defined() && den.Float() == 0 {
			report.Warnings = append(report.Warnings, Issue{Metric: key, Issue: IssueDivideByZero})
		}
	}

	for _, key := range applicableKeys {
		if erroredMetrics[key] {
			continue
		}
		result, ok := snap.Ratios.Metrics[key]
		if !ok || !result.Value.Defined() {
			report.Warnings = append(report.Warnings, Issue{Metric: key, Issue: IssueMissing})
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}

// InferBusinessModel classifies a borrower from its period facts.
// Real-estate signals (NOI, rental income) together with operating signals
// (revenue, EBITDA) mean mixed; operating signals alone mean operating
// company; otherwise real-estate is the default.
func InferBusinessModel(p *models.FinancialPeriod) BusinessModel {
	if p == nil {
		return RealEstate
	}
	realEstate := p.Income.NOI.Defined() || p.Income.RentalIncome.Defined()
	operating := p.Income.Revenue.Defined() || p.Income.EBITDA.Defined()

	switch {
	case realEstate && operating:
		return Mixed
	case operating:
		return OperatingCompany
	default:
		return RealEstate
	}
}

// periodFacts flattens the selected period's fact groups so the finiteness
// scan reaches every reported numeric, not just the derived results.
func periodFacts(p *models.FinancialPeriod) map[string]models.Value {
	if p == nil {
		return nil
	}
	return map[string]models.Value{
		"period.income.revenue":             p.Income.Revenue,
		"period.income.ebitda":              p.Income.EBITDA,
		"period.income.netIncome":           p.Income.NetIncome,
		"period.income.interest":            p.Income.Interest,
		"period.income.noi":                 p.Income.NOI,
		"period.income.rentalIncome":        p.Income.RentalIncome,
		"period.balance.cash":               p.Balance.Cash,
		"period.balance.accountsReceivable": p.Balance.AccountsReceivable,
		"period.balance.inventory":          p.Balance.Inventory,
		"period.balance.shortTermDebt":      p.Balance.ShortTermDebt,
		"period.balance.longTermDebt":       p.Balance.LongTermDebt,
		"period.balance.collateralValue":    p.Balance.CollateralValue,
		"period.cashFlow.operating":         p.CashFlow.OperatingCashFlow,
		"period.cashFlow.capex":             p.CashFlow.CapitalExpenditure,
	}
}

func finiteness(v models.Value) (string, bool) {
	if !v.Defined() {
		return "", false
	}
	f := v.Float()
	switch {
	case math.IsNaN(f):
		return IssueNaN, true
	case math.IsInf(f, 0):
		return IssueInfinite, true
	default:
		return "", false
	}
}
