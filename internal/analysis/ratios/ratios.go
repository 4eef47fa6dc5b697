// Package ratios computes the seven core credit ratios with null-safe
// arithmetic. Missing inputs and zero denominators become diagnostics on the
// result, never exceptions and never silent zeros.
package ratios

import (
	"covenant/internal/analysis/models"
)

// Named pairs an audit name with a possibly-absent fact.
type Named struct {
	Name  string
	Value models.Value
}

// SafeSum adds the named components. If every component is present the sum is
// present; otherwise the sum is absent and the second return lists exactly
// the absent component names. Absent is never treated as zero.
func SafeSum(components ...Named) (models.Value, []string) {
	var missing []string
	var total float64
	for _, c := range components {
		if !c.Value.Defined() {
			missing = append(missing, c.Name)
			continue
		}
		total += c.Value.Float()
	}
	if len(missing) > 0 {
		return models.Absent(), missing
	}
	return models.Present(total), nil
}

// SafeDivide builds a full MetricResult for numerator/denominator.
//
// Either operand absent: value absent, missingInputs names exactly the absent
// operand(s). Denominator exactly zero with both present: value absent,
// divideByZero set. The inputs snapshot always carries both operands as seen.
func SafeDivide(numName string, num models.Value, denName string, den models.Value, inputs map[string]models.Value, formula string) models.MetricResult {
	result := models.MetricResult{
		Inputs:  snapshotInputs(inputs, numName, num, denName, den),
		Formula: formula,
	}

	if !num.Defined() {
		result.Diagnostics.MissingInputs = append(result.Diagnostics.MissingInputs, numName)
	}
	if !den.Defined() {
		result.Diagnostics.MissingInputs = append(result.Diagnostics.MissingInputs, denName)
	}
	if len(result.Diagnostics.MissingInputs) > 0 {
		return result
	}

	if den.Float() == 0 {
		result.Diagnostics.DivideByZero = true
		return result
	}

	result.Value = models.Present(num.Float() / den.Float())
	return result
}

// safeSubtract mirrors SafeDivide for the one subtraction metric: absent if
// either term is absent, present otherwise. Zero is a legal result.
func safeSubtract(leftName string, left models.Value, rightName string, right models.Value, inputs map[string]models.Value, formula string) models.MetricResult {
	result := models.MetricResult{
		Inputs:  snapshotInputs(inputs, leftName, left, rightName, right),
		Formula: formula,
	}

	if !left.Defined() {
		result.Diagnostics.MissingInputs = append(result.Diagnostics.MissingInputs, leftName)
	}
	if !right.Defined() {
		result.Diagnostics.MissingInputs = append(result.Diagnostics.MissingInputs, rightName)
	}
	if len(result.Diagnostics.MissingInputs) > 0 {
		return result
	}

	result.Value = models.Present(left.Float() - right.Float())
	return result
}

// ComputeCoreCreditMetrics evaluates all seven ratios for one period.
//
// An unknown period id yields an empty bundle, never an error: the caller
// already owns period selection and its diagnostics.
func ComputeCoreCreditMetrics(periods []*models.FinancialPeriod, periodID string, ds models.DebtServiceResult) models.RatioBundle {
	bundle := models.RatioBundle{PeriodID: periodID}

	var p *models.FinancialPeriod
	for _, candidate := range periods {
		if candidate.PeriodID == periodID {
			p = candidate
			break
		}
	}
	if p == nil {
		return bundle
	}

	income, balance := p.Income, p.Balance

	totalDebt, missingDebt := SafeSum(
		Named{"shortTermDebt", balance.ShortTermDebt},
		Named{"longTermDebt", balance.LongTermDebt},
	)
	currentAssets, missingCurrent := SafeSum(
		Named{"cash", balance.Cash},
		Named{"accountsReceivable", balance.AccountsReceivable},
		Named{"inventory", balance.Inventory},
	)
	quickAssets, missingQuick := SafeSum(
		Named{"cash", balance.Cash},
		Named{"accountsReceivable", balance.AccountsReceivable},
	)

	bundle.Metrics = map[string]models.MetricResult{
		models.MetricDSCR: SafeDivide(
			"ebitda", income.EBITDA,
			"totalDebtService", ds.TotalDebtService,
			nil, "EBITDA / TotalDebtService"),

		models.MetricLeverage: withComponentGaps(SafeDivide(
			"totalDebt", totalDebt,
			"ebitda", income.EBITDA,
			map[string]models.Value{
				"shortTermDebt": balance.ShortTermDebt,
				"longTermDebt":  balance.LongTermDebt,
			}, "(ShortTermDebt + LongTermDebt) / EBITDA"), "totalDebt", missingDebt),

		models.MetricCurrentRatio: withComponentGaps(SafeDivide(
			"currentAssets", currentAssets,
			"shortTermDebt", balance.ShortTermDebt,
			map[string]models.Value{
				"cash":               balance.Cash,
				"accountsReceivable": balance.AccountsReceivable,
				"inventory":          balance.Inventory,
			}, "(Cash + AR + Inventory) / ShortTermDebt"), "currentAssets", missingCurrent),

		models.MetricQuickRatio: withComponentGaps(SafeDivide(
			"quickAssets", quickAssets,
			"shortTermDebt", balance.ShortTermDebt,
			map[string]models.Value{
				"cash":               balance.Cash,
				"accountsReceivable": balance.AccountsReceivable,
			}, "(Cash + AR) / ShortTermDebt"), "quickAssets", missingQuick),

		models.MetricWorkingCapital: withComponentGaps(safeSubtract(
			"currentAssets", currentAssets,
			"shortTermDebt", balance.ShortTermDebt,
			map[string]models.Value{
				"cash":               balance.Cash,
				"accountsReceivable": balance.AccountsReceivable,
				"inventory":          balance.Inventory,
			}, "(Cash + AR + Inventory) - ShortTermDebt"), "currentAssets", missingCurrent),

		models.MetricEBITDAMargin: SafeDivide(
			"ebitda", income.EBITDA,
			"revenue", income.Revenue,
			nil, "EBITDA / Revenue"),

		models.MetricNetMargin: SafeDivide(
			"netIncome", income.NetIncome,
			"revenue", income.Revenue,
			nil, "NetIncome / Revenue"),
	}

	return bundle
}

// withComponentGaps replaces a composite operand's name in missingInputs with
// the names of the absent components that made it absent. "leverage is
// missing shortTermDebt" is actionable; "missing totalDebt" is not.
func withComponentGaps(result models.MetricResult, composite string, missing []string) models.MetricResult {
	if len(missing) == 0 {
		return result
	}
	expanded := make([]string, 0, len(result.Diagnostics.MissingInputs)+len(missing)-1)
	for _, name := range result.Diagnostics.MissingInputs {
		if name == composite {
			expanded = append(expanded, missing...)
			continue
		}
		expanded = append(expanded, name)
	}
	result.Diagnostics.MissingInputs = expanded
	return result
}

func snapshotInputs(extra map[string]models.Value, aName string, a models.Value, bName string, b models.Value) map[string]models.Value {
	inputs := make(map[string]models.Value, len(extra)+2)
	for name, v := range extra {
		inputs[name] = v
	}
	inputs[aName] = a
	inputs[bName] = b
	return inputs
}
