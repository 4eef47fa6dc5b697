// Package period deterministically picks one financial period from a
// candidate set. No clock and no randomness: the same inputs always select
// the same period, which is what makes snapshot replay byte-stable.
package period

import (
	"fmt"

	"covenant/internal/analysis/models"
)

// Strategy names a selection rule.
type Strategy string

const (
	// LatestFY picks the greatest-period-end fiscal-year-end period.
	LatestFY Strategy = "LATEST_FY"
	// LatestTTM picks the greatest-period-end trailing-twelve-month period.
	LatestTTM Strategy = "LATEST_TTM"
	// LatestAvailable picks the greatest period end regardless of type.
	LatestAvailable Strategy = "LATEST_AVAILABLE"
	// Explicit picks the period with an exact id match.
	Explicit Strategy = "EXPLICIT"
)

// Options parameterize a selection.
type Options struct {
	Strategy Strategy
	// PeriodID is required for Explicit, ignored otherwise.
	PeriodID string
}

// Diagnostics explains a selection for the audit trail.
type Diagnostics struct {
	Strategy     Strategy `json:"strategy"`
	CandidateIDs []string `json:"candidate_ids,omitempty"`
	ExcludedIDs  []string `json:"excluded_ids,omitempty"`
	Reason       string   `json:"reason"`
}

// Selection is the outcome: the chosen period, or nil when no candidate
// satisfies the strategy. Diagnostics are populated either way.
type Selection struct {
	Period      *models.FinancialPeriod `json:"period,omitempty"`
	Diagnostics Diagnostics             `json:"diagnostics"`
}

// Select applies the strategy to the candidate set.
//
// Latest-by-date comparisons use the ISO period-end string directly;
// lexicographic order on YYYY-MM-DD is chronological order.
func Select(periods []*models.FinancialPeriod, opts Options) Selection {
	switch opts.Strategy {
	case LatestFY:
		return latestOfType(periods, opts.Strategy, models.PeriodFYE)
	case LatestTTM:
		return latestOfType(periods, opts.Strategy, models.PeriodTTM)
	case LatestAvailable:
		return latest(periods, opts.Strategy, nil)
	case Explicit:
		return explicit(periods, opts.PeriodID)
	default:
		return Selection{Diagnostics: Diagnostics{
			Strategy: opts.Strategy,
			Reason:   fmt.Sprintf("unknown selection strategy %q", opts.Strategy),
		}}
	}
}

func latestOfType(periods []*models.FinancialPeriod, strategy Strategy, t models.PeriodType) Selection {
	keep := func(p *models.FinancialPeriod) bool { return p.Type == t }
	return latest(periods, strategy, keep)
}

func latest(periods []*models.FinancialPeriod, strategy Strategy, keep func(*models.FinancialPeriod) bool) Selection {
	diag := Diagnostics{Strategy: strategy}

	var best *models.FinancialPeriod
	for _, p := range periods {
		if keep != nil && !keep(p) {
			diag.ExcludedIDs = append(diag.ExcludedIDs, p.PeriodID)
			continue
		}
		diag.CandidateIDs = append(diag.CandidateIDs, p.PeriodID)
		if best == nil || p.PeriodEnd > best.PeriodEnd {
			best = p
		}
	}

	if best == nil {
		diag.Reason = "no period matches the strategy"
		return Selection{Diagnostics: diag}
	}
	diag.Reason = fmt.Sprintf("selected %s with greatest period end %s", best.PeriodID, best.PeriodEnd)
	return Selection{Period: best, Diagnostics: diag}
}

func explicit(periods []*models.FinancialPeriod, periodID string) Selection {
	diag := Diagnostics{Strategy: Explicit}
	for _, p := range periods {
		diag.CandidateIDs = append(diag.CandidateIDs, p.PeriodID)
		if p.PeriodID == periodID {
			diag.Reason = fmt.Sprintf("selected %s by explicit id", periodID)
			return Selection{Period: p, Diagnostics: diag}
		}
	}
	diag.Reason = fmt.Sprintf("no period has id %q", periodID)
	return Selection{Diagnostics: diag}
}
