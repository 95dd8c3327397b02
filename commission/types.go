/*
Package commission provides the tiered commission and period-lock engine.

PURPOSE:
  Turns revenue attributed to an employee into a progressive, three-tier
  commission amount, freezes the policy used for the computation onto the
  record, and enforces a finalize/lock workflow so that commissions consumed
  by payroll cannot drift after the fact.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy: Named tier thresholds and percentages, keyed by a unique code
  - PolicySnapshot: The numeric policy fields frozen onto a record
  - Record: One computed commission per (employee, month)
  - TierBreakdown: Revenue and commission allocated to each tier

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal, rounded per tier, half-up
  2. Snapshots: A record never looks up its policy again once created
  3. Single owner: Records are mutated only through Service operations
  4. Auditability: Every batch transition leaves an audit entry

SEE ALSO:
  - calculator.go: Progressive tier allocation
  - revenue.go: Net revenue aggregation from the ledger
  - service.go: Sync / Recalculate / Lock / Unlock orchestration
  - store.go: Persistence interfaces
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PolicyCode string
type ProjectID string

// =============================================================================
// POLICY - Tier thresholds and percentages
// =============================================================================

// Policy is a named commission plan. Policies are mutable; records carry a
// PolicySnapshot so that editing a policy never changes historical records.
type Policy struct {
	Code           PolicyCode      `validate:"required,max=64"`
	Name           string          `validate:"required,max=200"`
	StandardTarget decimal.Decimal `validate:"gte=0"`
	AdvancedTarget decimal.Decimal `validate:"gte=0"`
	Tier1Percent   decimal.Decimal `validate:"gte=0,lte=100"`
	Tier2Percent   decimal.Decimal `validate:"gte=0,lte=100"`
	Tier3Percent   decimal.Decimal `validate:"gte=0,lte=100"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot copies the numeric fields used by the calculator.
func (p Policy) Snapshot() PolicySnapshot {
	return PolicySnapshot{
		StandardTarget: p.StandardTarget,
		AdvancedTarget: p.AdvancedTarget,
		Tier1Percent:   p.Tier1Percent,
		Tier2Percent:   p.Tier2Percent,
		Tier3Percent:   p.Tier3Percent,
	}
}

// PolicySnapshot is a self-contained copy of a policy's numeric fields.
// It is not a foreign key: deleting the policy leaves snapshots intact.
type PolicySnapshot struct {
	StandardTarget decimal.Decimal
	AdvancedTarget decimal.Decimal
	Tier1Percent   decimal.Decimal
	Tier2Percent   decimal.Decimal
	Tier3Percent   decimal.Decimal
}

func (s PolicySnapshot) Equal(o PolicySnapshot) bool {
	return s.StandardTarget.Equal(o.StandardTarget) &&
		s.AdvancedTarget.Equal(o.AdvancedTarget) &&
		s.Tier1Percent.Equal(o.Tier1Percent) &&
		s.Tier2Percent.Equal(o.Tier2Percent) &&
		s.Tier3Percent.Equal(o.Tier3Percent)
}

// =============================================================================
// TIER BREAKDOWN - Output of the calculator
// =============================================================================

type TierBreakdown struct {
	Effective       decimal.Decimal
	Tier1Revenue    decimal.Decimal
	Tier1Commission decimal.Decimal
	Tier2Revenue    decimal.Decimal
	Tier2Commission decimal.Decimal
	Tier3Revenue    decimal.Decimal
	Tier3Commission decimal.Decimal
	TotalCommission decimal.Decimal
}

func (b TierBreakdown) Equal(o TierBreakdown) bool {
	return b.Effective.Equal(o.Effective) &&
		b.Tier1Revenue.Equal(o.Tier1Revenue) &&
		b.Tier1Commission.Equal(o.Tier1Commission) &&
		b.Tier2Revenue.Equal(o.Tier2Revenue) &&
		b.Tier2Commission.Equal(o.Tier2Commission) &&
		b.Tier3Revenue.Equal(o.Tier3Revenue) &&
		b.Tier3Commission.Equal(o.Tier3Commission) &&
		b.TotalCommission.Equal(o.TotalCommission)
}

// =============================================================================
// RECORD - One commission per (employee, month)
// =============================================================================

type RecordStatus string

const (
	StatusDraft     RecordStatus = "DRAFT"
	StatusFinalized RecordStatus = "FINALIZED"
)

// Record is the persisted commission for one employee in one month.
//
// INVARIANTS:
//   - Breakdown.TotalCommission == sum of the three tier commissions
//   - Tier revenues are non-negative and sum to max(0, ActualRevenue+ManualAdjustment)
//   - Locked == true iff Status == StatusFinalized
type Record struct {
	EmployeeID       EmployeeID
	Month            Month
	PolicyCode       PolicyCode
	Snapshot         PolicySnapshot
	ActualRevenue    decimal.Decimal
	ManualAdjustment decimal.Decimal
	Breakdown        TierBreakdown
	Locked           bool
	Status           RecordStatus
	UpdatedAt        time.Time
}

// SameComputation reports whether two records hold identical inputs and
// results, ignoring UpdatedAt.
func (r Record) SameComputation(o Record) bool {
	return r.EmployeeID == o.EmployeeID &&
		r.Month == o.Month &&
		r.PolicyCode == o.PolicyCode &&
		r.Snapshot.Equal(o.Snapshot) &&
		r.ActualRevenue.Equal(o.ActualRevenue) &&
		r.ManualAdjustment.Equal(o.ManualAdjustment) &&
		r.Breakdown.Equal(o.Breakdown) &&
		r.Locked == o.Locked &&
		r.Status == o.Status
}

// =============================================================================
// PERIOD - Derived month state
// =============================================================================

type PeriodStatus string

const (
	PeriodDraft  PeriodStatus = "DRAFT"
	PeriodLocked PeriodStatus = "LOCKED"
)

// PeriodStatusOf projects a month's status from its records. A month is
// LOCKED iff at least one record is locked; a month with no records is DRAFT.
func PeriodStatusOf(records []Record) PeriodStatus {
	for _, r := range records {
		if r.Locked {
			return PeriodLocked
		}
	}
	return PeriodDraft
}

// PeriodSummary is the read view over one month.
type PeriodSummary struct {
	Month           Month
	Status          PeriodStatus
	Records         int
	LockedRecords   int
	TotalCommission decimal.Decimal
}

func SummarizePeriod(month Month, records []Record) PeriodSummary {
	s := PeriodSummary{
		Month:           month,
		Status:          PeriodStatusOf(records),
		Records:         len(records),
		TotalCommission: decimal.Zero,
	}
	for _, r := range records {
		if r.Locked {
			s.LockedRecords++
		}
		s.TotalCommission = s.TotalCommission.Add(r.Breakdown.TotalCommission)
	}
	return s
}
