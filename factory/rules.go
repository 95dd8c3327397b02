package factory

import (
	"os"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// REVENUE RULES - YAML document
// =============================================================================

// RulesYAML is the revenue rules document:
//
//	tax_inclusive_divisor: "1.1"
//	exclusions:
//	  include_defaults: true
//	  keywords: [security deposit, trust account]
//	  expressions:
//	    - category == "escrow"
//	    - amount < 0.0
type RulesYAML struct {
	TaxInclusiveDivisor *Amount        `yaml:"tax_inclusive_divisor"`
	Exclusions          ExclusionsYAML `yaml:"exclusions"`
}

type ExclusionsYAML struct {
	// IncludeDefaults keeps commission.DefaultExclusionKeywords. Defaults to true.
	IncludeDefaults *bool    `yaml:"include_defaults"`
	Keywords        []string `yaml:"keywords"`
	Expressions     []string `yaml:"expressions"`
}

// ParseRules builds RevenueRules from a YAML document. An empty document
// yields commission.DefaultRevenueRules().
func ParseRules(data []byte) (commission.RevenueRules, error) {
	var doc RulesYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return commission.RevenueRules{}, &commission.ValidationError{Field: "rules", Reason: err.Error()}
	}
	return doc.Build()
}

// LoadRules reads a rules file. An empty path yields the defaults.
func LoadRules(path string) (commission.RevenueRules, error) {
	return LoadRulesWithDivisor(path, commission.DefaultTaxInclusiveDivisor)
}

// LoadRulesWithDivisor is LoadRules with the divisor used when the file does
// not set tax_inclusive_divisor.
func LoadRulesWithDivisor(path string, divisor decimal.Decimal) (commission.RevenueRules, error) {
	if !divisor.IsPositive() {
		return commission.RevenueRules{}, &commission.ValidationError{Field: "tax_inclusive_divisor", Reason: "must be > 0"}
	}
	if path == "" {
		rules := commission.DefaultRevenueRules()
		rules.TaxInclusiveDivisor = divisor
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return commission.RevenueRules{}, errors.Wrap(err, "read rules file")
	}
	var doc RulesYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return commission.RevenueRules{}, errors.Wrapf(&commission.ValidationError{Field: "rules", Reason: err.Error()}, "rules file %s", path)
	}
	rules, err := doc.BuildWith(divisor)
	if err != nil {
		return commission.RevenueRules{}, errors.Wrapf(err, "rules file %s", path)
	}
	return rules, nil
}

// Build compiles the document. Keyword rules come first, then expressions in
// document order.
func (doc RulesYAML) Build() (commission.RevenueRules, error) {
	return doc.BuildWith(commission.DefaultTaxInclusiveDivisor)
}

func (doc RulesYAML) BuildWith(divisor decimal.Decimal) (commission.RevenueRules, error) {
	rules := commission.RevenueRules{TaxInclusiveDivisor: divisor}
	if doc.TaxInclusiveDivisor != nil {
		if !doc.TaxInclusiveDivisor.IsPositive() {
			return commission.RevenueRules{}, &commission.ValidationError{Field: "tax_inclusive_divisor", Reason: "must be > 0"}
		}
		rules.TaxInclusiveDivisor = doc.TaxInclusiveDivisor.Decimal
	}

	var keywords []string
	if doc.Exclusions.IncludeDefaults == nil || *doc.Exclusions.IncludeDefaults {
		keywords = append(keywords, commission.DefaultExclusionKeywords...)
	}
	keywords = append(keywords, doc.Exclusions.Keywords...)
	if kw := commission.NewKeywordRule(keywords...); len(kw.Keywords) > 0 {
		rules.Exclusions = append(rules.Exclusions, kw)
	}

	for i, expr := range doc.Exclusions.Expressions {
		rule, err := commission.NewExpressionRule(expr)
		if err != nil {
			return commission.RevenueRules{}, errors.Wrapf(err, "exclusions.expressions[%d]", i)
		}
		rules.Exclusions = append(rules.Exclusions, rule)
	}
	return rules, nil
}
