// Package mapper converts raw registry entries into typed, validated metric
// definitions.
//
// Untyped definition JSON is examined exactly once, here. Everything past
// this boundary works with the closed Formula union and never re-parses.
package mapper

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"covenant/internal/registry/models"
	dErrors "covenant/pkg/domain-errors"
)

// Op is a binary formula operation.
type Op string

const (
	OpDivide   Op = "divide"
	OpMultiply Op = "multiply"
	OpAdd      Op = "add"
	OpSubtract Op = "subtract"
)

var opSymbols = map[string]Op{
	"/": OpDivide,
	"*": OpMultiply,
	"+": OpAdd,
	"-": OpSubtract,
}

// Operand is one slot of a binary formula: a metric reference or a literal.
type Operand struct {
	// Ref is the referenced metric key; empty for literals.
	Ref string
	// Literal holds the numeric value when IsLiteral.
	Literal   float64
	IsLiteral bool
}

// Formula is the validated binary-op AST.
type Formula struct {
	Op    Op
	Left  Operand
	Right Operand
}

// String renders the formula for audit display, e.g. "ebitda / totalDebtService".
func (f Formula) String() string {
	symbol := "?"
	for sym, op := range opSymbols {
		if op == f.Op {
			symbol = sym
			break
		}
	}
	return f.Left.text() + " " + symbol + " " + f.Right.text()
}

func (o Operand) text() string {
	if o.IsLiteral {
		return strconv.FormatFloat(o.Literal, 'f', -1, 64)
	}
	return o.Ref
}

// MetricDefinition is the typed, validated form of a registry entry.
type MetricDefinition struct {
	// Key always equals the source entry's metric key verbatim.
	Key           string
	DependsOn     []string
	Formula       Formula
	Description   string
	RegulatoryRef string
}

// numericLiteral matches operands that are numbers, not metric references.
var numericLiteral = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// rawDefinition is the loosely-typed governed JSON shape.
type rawDefinition struct {
	Formula       *rawFormula `json:"formula"`
	Expression    string      `json:"expression"`
	DependsOn     []string    `json:"dependsOn"`
	Description   string      `json:"description"`
	RegulatoryRef string      `json:"regulatoryRef"`
}

type rawFormula struct {
	Op    string `json:"op"`
	Left  string `json:"left"`
	Right string `json:"right"`
}

// EntryToMetricDef maps one registry entry to a metric definition.
//
// Dependency precedence, in order:
//  1. An explicit dependsOn array is authoritative, even when it lists names
//     beyond the formula's operands. Governance data is trusted verbatim.
//  2. Otherwise dependencies derive from the formula operands, excluding
//     numeric literals.
//  3. With no structured formula, the legacy textual expression is parsed
//     into the structured form first, then rule 2 applies.
func EntryToMetricDef(entry *models.RegistryEntry) (*MetricDefinition, error) {
	var raw rawDefinition
	if err := json.Unmarshal(entry.Definition, &raw); err != nil {
		return nil, dErrors.Newf(dErrors.CodeValidation, "metric %q: definition is not valid JSON", entry.MetricKey)
	}

	var formula Formula
	switch {
	case raw.Formula != nil:
		f, err := typedFormula(entry.MetricKey, raw.Formula)
		if err != nil {
			return nil, err
		}
		formula = f
	case strings.TrimSpace(raw.Expression) != "":
		f, err := parseLegacyExpression(entry.MetricKey, raw.Expression)
		if err != nil {
			return nil, err
		}
		formula = f
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation,
			"metric %q: entry has neither a structured formula nor a legacy expression", entry.MetricKey)
	}

	dependsOn := raw.DependsOn
	if dependsOn == nil {
		dependsOn = deriveDependencies(formula)
	}

	return &MetricDefinition{
		Key:           entry.MetricKey,
		DependsOn:     dedupe(dependsOn),
		Formula:       formula,
		Description:   raw.Description,
		RegulatoryRef: raw.RegulatoryRef,
	}, nil
}

// EntriesToMetricDefs maps a batch, preserving order. Empty input yields an
// empty output. The first invalid entry fails the whole batch: a version with
// an unmappable entry must never be partially applied.
func EntriesToMetricDefs(entries []*models.RegistryEntry) ([]*MetricDefinition, error) {
	defs := make([]*MetricDefinition, 0, len(entries))
	for _, entry := range entries {
		def, err := EntryToMetricDef(entry)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func typedFormula(metricKey string, raw *rawFormula) (Formula, error) {
	op := Op(raw.Op)
	switch op {
	case OpDivide, OpMultiply, OpAdd, OpSubtract:
	default:
		return Formula{}, dErrors.Newf(dErrors.CodeValidation, "metric %q: unknown operation %q", metricKey, raw.Op)
	}
	left, err := typedOperand(metricKey, raw.Left)
	if err != nil {
		return Formula{}, err
	}
	right, err := typedOperand(metricKey, raw.Right)
	if err != nil {
		return Formula{}, err
	}
	return Formula{Op: op, Left: left, Right: right}, nil
}

func typedOperand(metricKey, raw string) (Operand, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Operand{}, dErrors.Newf(dErrors.CodeValidation, "metric %q: formula operand is empty", metricKey)
	}
	if numericLiteral.MatchString(raw) {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Operand{}, dErrors.Newf(dErrors.CodeValidation, "metric %q: bad numeric literal %q", metricKey, raw)
		}
		return Operand{Literal: v, IsLiteral: true}, nil
	}
	return Operand{Ref: raw}, nil
}

// parseLegacyExpression handles the deprecated free-text form: exactly one
// binary operator between two operands, e.g. "ebitda / totalDebtService".
// Deliberately narrow; the structured formula is the governed path.
func parseLegacyExpression(metricKey, expression string) (Formula, error) {
	for _, symbol := range []string{"/", "*", "+", "-"} {
		idx := strings.Index(expression, symbol)
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(expression[:idx])
		right := strings.TrimSpace(expression[idx+1:])
		if !legacyOperand(left) || !legacyOperand(right) {
			break
		}
		l, err := typedOperand(metricKey, left)
		if err != nil {
			return Formula{}, err
		}
		r, err := typedOperand(metricKey, right)
		if err != nil {
			return Formula{}, err
		}
		return Formula{Op: opSymbols[symbol], Left: l, Right: r}, nil
	}
	return Formula{}, dErrors.Newf(dErrors.CodeValidation,
		"metric %q: legacy expression %q is not a single binary operation", metricKey, expression)
}

// legacyOperand reports whether one side of a split expression is a whole
// operand: a numeric literal, or a metric key carrying no further operator
// symbols or whitespace. Anything else means the expression held more than
// one operator and must be rejected, not truncated.
func legacyOperand(s string) bool {
	if s == "" {
		return false
	}
	if numericLiteral.MatchString(s) {
		return true
	}
	return !strings.ContainsAny(s, "/*+- \t")
}

func deriveDependencies(f Formula) []string {
	var deps []string
	if !f.Left.IsLiteral {
		deps = append(deps, f.Left.Ref)
	}
	if !f.Right.IsLiteral {
		deps = append(deps, f.Right.Ref)
	}
	return deps
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
