/*
exclusion.go - Revenue recognition rules

PURPOSE:
  Some paid income is never commissionable: deposits, escrow, refunds of
  over-collection, pass-through collections. Detection is a conservative
  heuristic, so it lives in data (keyword lists, CEL expressions) instead of
  code. The tax-inclusive divisor is configuration for the same reason.

RULES:
  KeywordRule:    case-insensitive substring match on category + description
  ExpressionRule: a CEL boolean expression over the transaction, e.g.
                  category == "escrow" || (amount < 0.0 && project_id == "")

CEL VARIABLES:
  category, description, project_id, performer_id (string), amount (double)

SEE ALSO:
  - factory/rules.go: Loads RevenueRules from YAML
  - revenue.go: Applies the rules during aggregation
*/
package commission

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
)

// ExclusionRule decides whether a transaction is excluded from revenue.
type ExclusionRule interface {
	Match(tx Transaction) (bool, error)
	Name() string
}

// =============================================================================
// KEYWORD RULE
// =============================================================================

type KeywordRule struct {
	Keywords []string
}

func NewKeywordRule(keywords ...string) KeywordRule {
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			normalized = append(normalized, k)
		}
	}
	return KeywordRule{Keywords: normalized}
}

func (r KeywordRule) Match(tx Transaction) (bool, error) {
	text := strings.ToLower(tx.Category + " " + tx.Description)
	for _, k := range r.Keywords {
		if strings.Contains(text, k) {
			return true, nil
		}
	}
	return false, nil
}

func (r KeywordRule) Name() string {
	return "keywords[" + strings.Join(r.Keywords, ",") + "]"
}

// =============================================================================
// EXPRESSION RULE (CEL)
// =============================================================================

type ExpressionRule struct {
	expr    string
	program cel.Program
}

var exclusionEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("category", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("project_id", cel.StringType),
		cel.Variable("performer_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
	)
})

// NewExpressionRule compiles expr. The expression must evaluate to bool.
func NewExpressionRule(expr string) (*ExpressionRule, error) {
	env, err := exclusionEnv()
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, &ValidationError{Field: "exclusion expression", Reason: iss.Err().Error()}
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, &ValidationError{
			Field:  "exclusion expression",
			Reason: fmt.Sprintf("%q must return bool, got %s", expr, ast.OutputType()),
		}
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &ExpressionRule{expr: expr, program: prg}, nil
}

func (r *ExpressionRule) Match(tx Transaction) (bool, error) {
	amount, _ := tx.Amount.Float64()
	out, _, err := r.program.Eval(map[string]any{
		"category":     tx.Category,
		"description":  tx.Description,
		"project_id":   string(tx.ProjectID),
		"performer_id": string(tx.PerformerID),
		"amount":       amount,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", r.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: non-bool result %v", r.expr, out.Value())
	}
	return matched, nil
}

func (r *ExpressionRule) Name() string { return "expr[" + r.expr + "]" }

// =============================================================================
// REVENUE RULES - Exclusions plus tax handling
// =============================================================================

// DefaultExclusionKeywords covers deposits, escrow, over-collection refunds
// and pass-through collections.
var DefaultExclusionKeywords = []string{
	"deposit",
	"escrow",
	"over-collection",
	"overcollection",
	"overpayment refund",
	"pass-through",
	"passthrough",
}

// DefaultTaxInclusiveDivisor assumes a 10% tax included in the amount.
var DefaultTaxInclusiveDivisor = decimal.RequireFromString("1.1")

type RevenueRules struct {
	Exclusions          []ExclusionRule
	TaxInclusiveDivisor decimal.Decimal
}

func DefaultRevenueRules() RevenueRules {
	return RevenueRules{
		Exclusions:          []ExclusionRule{NewKeywordRule(DefaultExclusionKeywords...)},
		TaxInclusiveDivisor: DefaultTaxInclusiveDivisor,
	}
}

// Excluded returns the name of the first matching rule.
func (r RevenueRules) Excluded(tx Transaction) (bool, string, error) {
	for _, rule := range r.Exclusions {
		matched, err := rule.Match(tx)
		if err != nil {
			return false, rule.Name(), err
		}
		if matched {
			return true, rule.Name(), nil
		}
	}
	return false, "", nil
}

// NetAmount is the commission-eligible part of a non-excluded transaction:
//   - explicit tax:  amount - taxAmount
//   - tax-inclusive: round(amount / divisor), half-up
//   - otherwise:     amount
func (r RevenueRules) NetAmount(tx Transaction) decimal.Decimal {
	if tx.TaxAmount != nil {
		return tx.Amount.Sub(*tx.TaxAmount)
	}
	if tx.TaxInclusive {
		divisor := r.TaxInclusiveDivisor
		if !divisor.IsPositive() {
			divisor = DefaultTaxInclusiveDivisor
		}
		return RoundHalfUp(tx.Amount.DivRound(divisor, 8))
	}
	return tx.Amount
}
