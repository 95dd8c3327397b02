/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Money is always
  rendered as a decimal string so that clients never round-trip it
  through float64.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  decodeAndValidate before touching the service.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
)

// =============================================================================
// POLICIES
// =============================================================================

type PolicyDTO struct {
	factory.PolicyJSON
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func ToPolicyDTO(p commission.Policy) PolicyDTO {
	return PolicyDTO{
		PolicyJSON: factory.ToJSON(p),
		CreatedAt:  formatTime(p.CreatedAt),
		UpdatedAt:  formatTime(p.UpdatedAt),
	}
}

// =============================================================================
// RECORDS
// =============================================================================

type SnapshotDTO struct {
	StandardTarget string `json:"standard_target"`
	AdvancedTarget string `json:"advanced_target"`
	Tier1Percent   string `json:"tier1_percent"`
	Tier2Percent   string `json:"tier2_percent"`
	Tier3Percent   string `json:"tier3_percent"`
}

type BreakdownDTO struct {
	Effective       string `json:"effective_revenue"`
	Tier1Revenue    string `json:"tier1_revenue"`
	Tier1Commission string `json:"tier1_commission"`
	Tier2Revenue    string `json:"tier2_revenue"`
	Tier2Commission string `json:"tier2_commission"`
	Tier3Revenue    string `json:"tier3_revenue"`
	Tier3Commission string `json:"tier3_commission"`
	TotalCommission string `json:"total_commission"`
}

type RecordDTO struct {
	EmployeeID       string       `json:"employee_id"`
	Month            string       `json:"month"`
	PolicyCode       string       `json:"policy_code"`
	Snapshot         SnapshotDTO  `json:"policy_snapshot"`
	ActualRevenue    string       `json:"actual_revenue"`
	ManualAdjustment string       `json:"manual_adjustment"`
	Breakdown        BreakdownDTO `json:"breakdown"`
	Locked           bool         `json:"locked"`
	Status           string       `json:"status"`
	UpdatedAt        string       `json:"updated_at"`
}

func ToRecordDTO(r commission.Record) RecordDTO {
	b := r.Breakdown
	return RecordDTO{
		EmployeeID: string(r.EmployeeID),
		Month:      r.Month.String(),
		PolicyCode: string(r.PolicyCode),
		Snapshot: SnapshotDTO{
			StandardTarget: r.Snapshot.StandardTarget.String(),
			AdvancedTarget: r.Snapshot.AdvancedTarget.String(),
			Tier1Percent:   r.Snapshot.Tier1Percent.String(),
			Tier2Percent:   r.Snapshot.Tier2Percent.String(),
			Tier3Percent:   r.Snapshot.Tier3Percent.String(),
		},
		ActualRevenue:    r.ActualRevenue.String(),
		ManualAdjustment: r.ManualAdjustment.String(),
		Breakdown: BreakdownDTO{
			Effective:       b.Effective.String(),
			Tier1Revenue:    b.Tier1Revenue.String(),
			Tier1Commission: b.Tier1Commission.String(),
			Tier2Revenue:    b.Tier2Revenue.String(),
			Tier2Commission: b.Tier2Commission.String(),
			Tier3Revenue:    b.Tier3Revenue.String(),
			Tier3Commission: b.Tier3Commission.String(),
			TotalCommission: b.TotalCommission.String(),
		},
		Locked:    r.Locked,
		Status:    string(r.Status),
		UpdatedAt: formatTime(r.UpdatedAt),
	}
}

func ToRecordDTOs(records []commission.Record) []RecordDTO {
	out := make([]RecordDTO, len(records))
	for i, r := range records {
		out[i] = ToRecordDTO(r)
	}
	return out
}

// CreateRecordRequest adds a record outside of sync. ActualRevenue is
// aggregated from the ledger when omitted.
type CreateRecordRequest struct {
	EmployeeID       string  `json:"employee_id" validate:"required,max=64"`
	PolicyCode       string  `json:"policy_code" validate:"required,max=64"`
	ActualRevenue    *string `json:"actual_revenue" validate:"omitempty,numeric"`
	ManualAdjustment string  `json:"manual_adjustment" validate:"omitempty,numeric"`
}

type AdjustmentRequest struct {
	ManualAdjustment string `json:"manual_adjustment" validate:"required,numeric"`
}

// =============================================================================
// PERIODS
// =============================================================================

type PeriodDTO struct {
	Month           string `json:"month"`
	Status          string `json:"status"`
	Records         int    `json:"records"`
	LockedRecords   int    `json:"locked_records"`
	TotalCommission string `json:"total_commission"`
}

func ToPeriodDTO(s commission.PeriodSummary) PeriodDTO {
	return PeriodDTO{
		Month:           s.Month.String(),
		Status:          string(s.Status),
		Records:         s.Records,
		LockedRecords:   s.LockedRecords,
		TotalCommission: s.TotalCommission.String(),
	}
}

type UnlockRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// =============================================================================
// SYNC
// =============================================================================

type FailureDTO struct {
	EmployeeID string `json:"employee_id"`
	Reason     string `json:"reason"`
}

type EmployeeResultDTO struct {
	EmployeeID string     `json:"employee_id"`
	PolicyCode string     `json:"policy_code,omitempty"`
	Outcome    string     `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
	Record     *RecordDTO `json:"record,omitempty"`
}

type SyncResponse struct {
	RunID       string              `json:"run_id"`
	Month       string              `json:"month"`
	StartedAt   string              `json:"started_at"`
	CompletedAt string              `json:"completed_at"`
	Counts      map[string]int      `json:"counts"`
	Employees   []EmployeeResultDTO `json:"employees"`
	Failures    []FailureDTO        `json:"failures"`
}

var outcomes = []commission.Outcome{
	commission.OutcomeSynced,
	commission.OutcomeUnchanged,
	commission.OutcomeSkipped,
	commission.OutcomeFailed,
}

func ToSyncResponse(r *commission.SyncResult) SyncResponse {
	resp := SyncResponse{
		RunID:       r.RunID,
		Month:       r.Month.String(),
		StartedAt:   formatTime(r.StartedAt),
		CompletedAt: formatTime(r.CompletedAt),
		Counts:      make(map[string]int, len(outcomes)),
		Employees:   make([]EmployeeResultDTO, len(r.Employees)),
		Failures:    toFailureDTOs(r.Failures()),
	}
	for _, o := range outcomes {
		resp.Counts[string(o)] = r.Count(o)
	}
	for i, e := range r.Employees {
		dto := EmployeeResultDTO{
			EmployeeID: string(e.EmployeeID),
			PolicyCode: string(e.PolicyCode),
			Outcome:    string(e.Outcome),
			Reason:     e.Reason,
		}
		if e.Record != nil {
			rec := ToRecordDTO(*e.Record)
			dto.Record = &rec
		}
		resp.Employees[i] = dto
	}
	return resp
}

func toFailureDTOs(failures []commission.AggregationFailure) []FailureDTO {
	out := make([]FailureDTO, len(failures))
	for i, f := range failures {
		out[i] = FailureDTO{EmployeeID: string(f.EmployeeID), Reason: f.Reason}
	}
	return out
}

type SyncRunDTO struct {
	ID          string         `json:"id"`
	Month       string         `json:"month"`
	Actor       string         `json:"actor"`
	StartedAt   string         `json:"started_at"`
	CompletedAt string         `json:"completed_at"`
	Counts      map[string]int `json:"counts"`
	Complete    bool           `json:"complete"`
	Failures    []FailureDTO   `json:"failures"`
}

func ToSyncRunDTO(run commission.SyncRun) SyncRunDTO {
	return SyncRunDTO{
		ID:          run.ID,
		Month:       run.Month.String(),
		Actor:       run.Actor,
		StartedAt:   formatTime(run.StartedAt),
		CompletedAt: formatTime(run.CompletedAt),
		Counts: map[string]int{
			string(commission.OutcomeSynced):    run.Synced,
			string(commission.OutcomeUnchanged): run.Unchanged,
			string(commission.OutcomeSkipped):   run.Skipped,
			string(commission.OutcomeFailed):    run.Failed,
		},
		Complete: run.Complete(),
		Failures: toFailureDTOs(run.Failures),
	}
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Month      string         `json:"month,omitempty"`
	EmployeeID string         `json:"employee_id,omitempty"`
	PolicyCode string         `json:"policy_code,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func ToAuditEntryDTO(e commission.AuditEntry) AuditEntryDTO {
	dto := AuditEntryDTO{
		ID:         e.ID,
		Timestamp:  formatTime(e.Timestamp),
		Actor:      e.Actor,
		Action:     string(e.Action),
		EmployeeID: string(e.EmployeeID),
		PolicyCode: string(e.PolicyCode),
		Payload:    e.Payload,
	}
	if !e.Month.IsZero() {
		dto.Month = e.Month.String()
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error    string       `json:"error"`
	Details  string       `json:"details,omitempty"`
	Failures []FailureDTO `json:"failures,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &commission.ValidationError{Field: field, Reason: "invalid decimal " + s}
	}
	return d, nil
}
