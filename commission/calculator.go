/*
calculator.go - Progressive three-tier commission allocation

ALGORITHM:
  effective     = max(0, actual + adjustment)
  tier1Revenue  = min(effective, standardTarget)
  tier2Revenue  = min(remaining, max(0, advancedTarget - standardTarget))
  tier3Revenue  = whatever remains (unbounded top tier)
  tierNCommission = round(tierNRevenue * percentN / 100), half-up to a whole unit
  total         = sum of the already-rounded tier commissions

ROUNDING:
  Rounding happens per tier, never on the total. decimal.Round(0) rounds half
  away from zero, which is half-up for the non-negative values produced here.

EXAMPLE:
  standard=100, advanced=200, percents 1 / 1.5 / 2, effective=250
    tier1: 100 -> 1.0 -> 1
    tier2: 100 -> 1.5 -> 2
    tier3:  50 -> 1.0 -> 1
    total = 4

The calculator never fails: a malformed snapshot (negative targets, advanced
below standard) is tolerated by clamping every range at zero.
*/
package commission

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Compute allocates effective revenue across the snapshot's tiers.
// It is pure and deterministic.
func Compute(actualRevenue, manualAdjustment decimal.Decimal, policy PolicySnapshot) TierBreakdown {
	effective := nonNegative(actualRevenue.Add(manualAdjustment))

	tier1 := decimal.Min(effective, nonNegative(policy.StandardTarget))
	remaining := nonNegative(effective.Sub(tier1))

	tier2Range := nonNegative(policy.AdvancedTarget.Sub(nonNegative(policy.StandardTarget)))
	tier2 := decimal.Min(remaining, tier2Range)
	remaining = nonNegative(remaining.Sub(tier2))

	tier3 := remaining

	b := TierBreakdown{
		Effective:       effective,
		Tier1Revenue:    tier1,
		Tier1Commission: tierCommission(tier1, policy.Tier1Percent),
		Tier2Revenue:    tier2,
		Tier2Commission: tierCommission(tier2, policy.Tier2Percent),
		Tier3Revenue:    tier3,
		Tier3Commission: tierCommission(tier3, policy.Tier3Percent),
	}
	b.TotalCommission = b.Tier1Commission.Add(b.Tier2Commission).Add(b.Tier3Commission)
	return b
}

func tierCommission(revenue, percent decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(revenue.Mul(percent).Div(hundred))
}

// RoundHalfUp rounds to a whole currency unit.
func RoundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
