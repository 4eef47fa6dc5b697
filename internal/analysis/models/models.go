// Package models holds the evaluation-path data types: financial periods,
// possibly-absent values, metric results and debt-service figures.
package models

import (
	"encoding/json"
)

// Value is a possibly-absent numeric fact. The zero value is absent.
//
// Absent and zero are different states and must never be conflated: a
// borrower who reported zero inventory is not a borrower whose inventory is
// unknown. Arithmetic over Values goes through the safe primitives, which
// propagate absence instead of substituting zero.
type Value struct {
	v       float64
	defined bool
}

// Present wraps a known numeric fact.
func Present(v float64) Value {
	return Value{v: v, defined: true}
}

// Absent is the unknown value. Equivalent to the zero Value.
func Absent() Value {
	return Value{}
}

// Defined reports whether the value is known.
func (v Value) Defined() bool { return v.defined }

// Float returns the numeric value. Only meaningful when Defined.
func (v Value) Float() float64 { return v.v }

// MarshalJSON renders absent as null, never as 0.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.defined {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON reads null (or a missing field) as absent.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Present(f)
	return nil
}

// PeriodType distinguishes reporting windows.
type PeriodType string

const (
	PeriodFYE     PeriodType = "FYE"
	PeriodTTM     PeriodType = "TTM"
	PeriodInterim PeriodType = "INTERIM"
)

// IncomeFacts are income-statement facts for one period.
type IncomeFacts struct {
	Revenue   Value `json:"revenue"`
	EBITDA    Value `json:"ebitda"`
	NetIncome Value `json:"net_income"`
	Interest  Value `json:"interest"`
	// NOI and RentalIncome are real-estate signals used for business model
	// inference; operating borrowers leave them absent.
	NOI          Value `json:"noi"`
	RentalIncome Value `json:"rental_income"`
}

// BalanceFacts are balance-sheet facts for one period.
type BalanceFacts struct {
	Cash               Value `json:"cash"`
	AccountsReceivable Value `json:"accounts_receivable"`
	Inventory          Value `json:"inventory"`
	ShortTermDebt      Value `json:"short_term_debt"`
	LongTermDebt       Value `json:"long_term_debt"`
	CollateralValue    Value `json:"collateral_value"`
}

// CashFlowFacts are cash-flow facts for one period.
type CashFlowFacts struct {
	OperatingCashFlow  Value `json:"operating_cash_flow"`
	CapitalExpenditure Value `json:"capital_expenditure"`
}

// FinancialPeriod is one discrete reporting window from the upstream
// financial-model producer. Fact groups whose every field is absent are
// equivalent to the group being missing entirely.
type FinancialPeriod struct {
	PeriodID string `json:"period_id"`
	// PeriodEnd is an ISO date (YYYY-MM-DD); lexicographic order is
	// chronological order.
	PeriodEnd string     `json:"period_end"`
	Type      PeriodType `json:"type"`
	// Months covered by the window; 12 for FYE and TTM.
	Months       int           `json:"months"`
	Income       IncomeFacts   `json:"income"`
	Balance      BalanceFacts  `json:"balance"`
	CashFlow     CashFlowFacts `json:"cash_flow"`
	QualityFlags []string      `json:"quality_flags,omitempty"`
}

// Diagnostics records why a metric value is absent. Missing data and
// arithmetic hazards are never errors; a partially-known snapshot still
// renders with explicit gaps.
type Diagnostics struct {
	MissingInputs []string `json:"missing_inputs,omitempty"`
	DivideByZero  bool     `json:"divide_by_zero,omitempty"`
}

// MetricResult is the outcome of evaluating one metric for one period.
//
// Invariant: Value is present iff every required input was present and no
// zero denominator occurred. Inputs snapshots every named operand as seen at
// computation time so reports can cite sources.
type MetricResult struct {
	Value       Value            `json:"value"`
	Inputs      map[string]Value `json:"inputs"`
	Formula     string           `json:"formula"`
	Diagnostics Diagnostics      `json:"diagnostics,omitempty"`
}

// Metric keys of the seven core credit ratios.
const (
	MetricDSCR           = "dscr"
	MetricLeverage       = "leverage"
	MetricCurrentRatio   = "currentRatio"
	MetricQuickRatio     = "quickRatio"
	MetricWorkingCapital = "workingCapital"
	MetricEBITDAMargin   = "ebitdaMargin"
	MetricNetMargin      = "netMargin"
)

// RatioBundle is the period-tagged set of core metric results.
type RatioBundle struct {
	PeriodID string                  `json:"period_id"`
	Metrics  map[string]MetricResult `json:"metrics"`
}

// InstrumentTag splits a portfolio into debt that already exists and debt
// being proposed in the current request.
type InstrumentTag string

const (
	TagExisting InstrumentTag = "existing"
	TagProposed InstrumentTag = "proposed"
)

// DebtInstrument is one facility from the portfolio engine.
type DebtInstrument struct {
	InstrumentID string        `json:"instrument_id"`
	Tag          InstrumentTag `json:"tag"`
	// Payment is the periodic payment; annualized as Payment * PaymentsPerYear.
	Payment         Value `json:"payment"`
	PaymentsPerYear int   `json:"payments_per_year"`
}

// DebtServiceSource names which path produced a debt-service figure.
type DebtServiceSource string

const (
	SourceInterestProxy       DebtServiceSource = "interest_proxy"
	SourceInstrumentPortfolio DebtServiceSource = "instrument_portfolio"
)

// DebtServiceBreakdown splits total service into existing and proposed debt.
type DebtServiceBreakdown struct {
	Existing Value `json:"existing"`
	Proposed Value `json:"proposed"`
}

// DebtServiceDiagnostics records the source path and anything that kept a
// component out of the total.
type DebtServiceDiagnostics struct {
	Source            DebtServiceSource `json:"source"`
	MissingComponents []string          `json:"missing_components,omitempty"`
}

// DebtServiceResult is the harmonized annual debt-service figure.
type DebtServiceResult struct {
	TotalDebtService Value                  `json:"total_debt_service"`
	Breakdown        DebtServiceBreakdown   `json:"breakdown"`
	Diagnostics      DebtServiceDiagnostics `json:"diagnostics"`
}
