/*
Package factory converts policy and revenue-rule documents into engine types.

PURPOSE:
  Commission plans and revenue recognition rules are edited by finance, not
  by developers. The factory turns JSON or YAML documents into
  commission.Policy and commission.RevenueRules, validating them on the way.

POLICY SCHEMA (JSON or YAML):
  {
    "code": "SALES_REP",
    "name": "Sales representative",
    "standard_target": 10000000,
    "advanced_target": "20000000",
    "tier1_percent": 1,
    "tier2_percent": 1.5,
    "tier3_percent": 2
  }

  Amounts may be written as numbers or strings. Strings are preferred for
  money because they are never routed through float64.

A policies file holds either one policy or a list under "policies".

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonBytes)
  policies, err := f.LoadPolicyFile("policies.yaml")

SEE ALSO:
  - commission/types.go: Policy type definition
  - factory/rules.go: Revenue rule documents
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// Amount is a decimal that accepts JSON/YAML numbers and strings.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	return a.set(s)
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number, got %s", node.Line, kindName(node.Kind))
	}
	if err := a.set(node.Value); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a Amount) MarshalYAML() (any, error) {
	return a.String(), nil
}

func (a *Amount) set(s string) error {
	if s == "" || s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q", s)
	}
	a.Decimal = d
	return nil
}

// PolicyJSON is the document representation of a policy.
type PolicyJSON struct {
	Code           string `json:"code" yaml:"code"`
	Name           string `json:"name" yaml:"name"`
	StandardTarget Amount `json:"standard_target" yaml:"standard_target"`
	AdvancedTarget Amount `json:"advanced_target" yaml:"advanced_target"`
	Tier1Percent   Amount `json:"tier1_percent" yaml:"tier1_percent"`
	Tier2Percent   Amount `json:"tier2_percent" yaml:"tier2_percent"`
	Tier3Percent   Amount `json:"tier3_percent" yaml:"tier3_percent"`
}

type policyFile struct {
	Policies []PolicyJSON `json:"policies" yaml:"policies"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts policy documents to commission.Policy.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a single JSON policy and validates it.
func (f *PolicyFactory) ParsePolicy(data []byte) (commission.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return commission.Policy{}, &commission.ValidationError{Reason: "invalid policy JSON: " + err.Error()}
	}
	return f.FromJSON(pj)
}

// ParsePolicyYAML parses a single YAML policy and validates it.
func (f *PolicyFactory) ParsePolicyYAML(data []byte) (commission.Policy, error) {
	var pj PolicyJSON
	if err := yaml.Unmarshal(data, &pj); err != nil {
		return commission.Policy{}, &commission.ValidationError{Reason: "invalid policy YAML: " + err.Error()}
	}
	return f.FromJSON(pj)
}

// FromJSON converts and validates a decoded document.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (commission.Policy, error) {
	p := commission.Policy{
		Code:           commission.PolicyCode(strings.TrimSpace(pj.Code)),
		Name:           strings.TrimSpace(pj.Name),
		StandardTarget: pj.StandardTarget.Decimal,
		AdvancedTarget: pj.AdvancedTarget.Decimal,
		Tier1Percent:   pj.Tier1Percent.Decimal,
		Tier2Percent:   pj.Tier2Percent.Decimal,
		Tier3Percent:   pj.Tier3Percent.Decimal,
	}
	if err := p.Validate(); err != nil {
		return commission.Policy{}, err
	}
	return p, nil
}

// ToJSON is the inverse of FromJSON.
func ToJSON(p commission.Policy) PolicyJSON {
	return PolicyJSON{
		Code:           string(p.Code),
		Name:           p.Name,
		StandardTarget: Amount{p.StandardTarget},
		AdvancedTarget: Amount{p.AdvancedTarget},
		Tier1Percent:   Amount{p.Tier1Percent},
		Tier2Percent:   Amount{p.Tier2Percent},
		Tier3Percent:   Amount{p.Tier3Percent},
	}
}

// ParsePolicies parses a document holding one policy or a "policies" list.
// Format is "json" or "yaml".
func (f *PolicyFactory) ParsePolicies(data []byte, format string) ([]commission.Policy, error) {
	decode := yaml.Unmarshal
	if format == "json" {
		decode = json.Unmarshal
	}

	var file policyFile
	if err := decode(data, &file); err == nil && len(file.Policies) > 0 {
		out := make([]commission.Policy, 0, len(file.Policies))
		seen := make(map[commission.PolicyCode]bool, len(file.Policies))
		for i, pj := range file.Policies {
			p, err := f.FromJSON(pj)
			if err != nil {
				return nil, errors.Wrapf(err, "policies[%d]", i)
			}
			if seen[p.Code] {
				return nil, fmt.Errorf("policies[%d]: %s: %w", i, p.Code, commission.ErrDuplicatePolicy)
			}
			seen[p.Code] = true
			out = append(out, p)
		}
		return out, nil
	}

	var p commission.Policy
	var err error
	if format == "json" {
		p, err = f.ParsePolicy(data)
	} else {
		p, err = f.ParsePolicyYAML(data)
	}
	if err != nil {
		return nil, err
	}
	return []commission.Policy{p}, nil
}

// LoadPolicyFile reads a .json, .yaml or .yml policies file.
func (f *PolicyFactory) LoadPolicyFile(path string) ([]commission.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read policies file")
	}
	return f.ParsePolicies(data, formatOf(path))
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
