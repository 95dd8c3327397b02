package commission

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// SYNC RESULT - Structured per-employee outcome
// =============================================================================

type Outcome string

const (
	OutcomeSynced    Outcome = "synced"    // record created or rewritten
	OutcomeUnchanged Outcome = "unchanged" // recomputation equals stored record
	OutcomeSkipped   Outcome = "skipped"   // no resolvable policy
	OutcomeFailed    Outcome = "failed"    // revenue could not be aggregated
)

type EmployeeResult struct {
	EmployeeID EmployeeID
	PolicyCode PolicyCode
	Outcome    Outcome
	Reason     string
	Record     *Record
}

type SyncResult struct {
	RunID       string
	Month       Month
	StartedAt   time.Time
	CompletedAt time.Time
	Employees   []EmployeeResult
}

func (r *SyncResult) Count(o Outcome) int {
	n := 0
	for _, e := range r.Employees {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

func (r *SyncResult) Failures() []AggregationFailure {
	var out []AggregationFailure
	for _, e := range r.Employees {
		if e.Outcome == OutcomeFailed {
			out = append(out, AggregationFailure{EmployeeID: e.EmployeeID, Reason: e.Reason})
		}
	}
	return out
}

// Err returns a *PartialAggregationError if any employee failed.
func (r *SyncResult) Err() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &PartialAggregationError{Month: r.Month, Failures: failures}
}

// =============================================================================
// SYNC - (Re)generate every record of a DRAFT month from the live policies
// =============================================================================

// Sync recomputes the month for every employee in the directory.
//
// Employees without a resolvable policy are reported as skipped. Employees
// whose revenue cannot be aggregated are reported as failed and their existing
// record, if any, is left as is; the others are still written. In that case
// the result is returned together with a *PartialAggregationError.
//
// Existing manual adjustments are preserved. A record whose recomputation is
// identical to what is stored is not rewritten, so repeated syncs over
// unchanged inputs leave records byte-for-byte identical.
//
// A LOCKED month fails with *PeriodLockedError and nothing is written.
func (s *Service) Sync(ctx context.Context, month Month, actor string) (*SyncResult, error) {
	if month.IsZero() {
		return nil, ErrInvalidMonth
	}
	release, err := s.locks.Acquire(ctx, monthKey(month))
	if err != nil {
		return nil, err
	}
	defer release()

	started := s.now()
	result, err := s.sync(ctx, month, actor, started)
	s.observer.SyncCompleted(month, result, s.now().Sub(started), err)
	return result, err
}

func (s *Service) sync(ctx context.Context, month Month, actor string, started time.Time) (*SyncResult, error) {
	log := s.log.WithFields(logrus.Fields{"month": month.String(), "actor": actor})

	// Fail fast before the potentially slow aggregation. The status is checked
	// again inside the write transaction.
	status, err := s.GetPeriodStatus(ctx, month)
	if err != nil {
		return nil, err
	}
	if status == PeriodLocked {
		return nil, &PeriodLockedError{Month: month}
	}

	assignments, err := s.directory.ListWithPolicy(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].EmployeeID < assignments[j].EmployeeID })

	policyList, err := s.store.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	policies := make(map[PolicyCode]Policy, len(policyList))
	for _, p := range policyList {
		policies[p.Code] = p
	}

	var (
		results   []EmployeeResult
		computed  []Assignment
		employees []EmployeeID
	)
	for _, a := range assignments {
		if a.PolicyCode == "" {
			results = append(results, EmployeeResult{EmployeeID: a.EmployeeID, Outcome: OutcomeSkipped, Reason: "no policy assigned"})
			continue
		}
		if _, ok := policies[a.PolicyCode]; !ok {
			results = append(results, EmployeeResult{
				EmployeeID: a.EmployeeID,
				PolicyCode: a.PolicyCode,
				Outcome:    OutcomeSkipped,
				Reason:     PolicyNotFound(a.PolicyCode).Error(),
			})
			continue
		}
		computed = append(computed, a)
		employees = append(employees, a.EmployeeID)
	}

	revenues, failures, err := s.aggregator.Aggregate(ctx, month, employees)
	if err != nil {
		return nil, err
	}

	runID := s.newID()
	now := s.now()
	var written []EmployeeResult
	err = s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.ListRecords(ctx, month)
		if err != nil {
			return err
		}
		if PeriodStatusOf(existing) == PeriodLocked {
			return &PeriodLockedError{Month: month}
		}
		prior := make(map[EmployeeID]Record, len(existing))
		for _, r := range existing {
			prior[r.EmployeeID] = r
		}

		written = written[:0]
		for _, a := range computed {
			if ferr := failures[a.EmployeeID]; ferr != nil {
				written = append(written, EmployeeResult{
					EmployeeID: a.EmployeeID,
					PolicyCode: a.PolicyCode,
					Outcome:    OutcomeFailed,
					Reason:     ferr.Error(),
				})
				continue
			}
			policy := policies[a.PolicyCode]
			prev, had := prior[a.EmployeeID]
			adjustment := decimal.Zero
			if had {
				adjustment = prev.ManualAdjustment
			}
			actual := revenues[a.EmployeeID].Amount
			rec := Record{
				EmployeeID:       a.EmployeeID,
				Month:            month,
				PolicyCode:       policy.Code,
				Snapshot:         policy.Snapshot(),
				ActualRevenue:    actual,
				ManualAdjustment: adjustment,
				Breakdown:        Compute(actual, adjustment, policy.Snapshot()),
				Locked:           false,
				Status:           StatusDraft,
				UpdatedAt:        now,
			}
			if had && prev.SameComputation(rec) {
				kept := prev
				written = append(written, EmployeeResult{EmployeeID: a.EmployeeID, PolicyCode: a.PolicyCode, Outcome: OutcomeUnchanged, Record: &kept})
				continue
			}
			if err := tx.SaveRecord(ctx, rec); err != nil {
				return err
			}
			written = append(written, EmployeeResult{EmployeeID: a.EmployeeID, PolicyCode: a.PolicyCode, Outcome: OutcomeSynced, Record: &rec})
		}

		run := SyncRun{ID: runID, Month: month, Actor: actor, StartedAt: started, CompletedAt: now}
		for _, r := range append(append([]EmployeeResult(nil), results...), written...) {
			switch r.Outcome {
			case OutcomeSynced:
				run.Synced++
			case OutcomeUnchanged:
				run.Unchanged++
			case OutcomeSkipped:
				run.Skipped++
			case OutcomeFailed:
				run.Failed++
				run.Failures = append(run.Failures, AggregationFailure{EmployeeID: r.EmployeeID, Reason: r.Reason})
			}
		}
		if err := tx.SaveSyncRun(ctx, run); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.audit(actor, AuditSync, month, "", "", map[string]any{
			"run_id":    runID,
			"synced":    run.Synced,
			"unchanged": run.Unchanged,
			"skipped":   run.Skipped,
			"failed":    run.Failed,
		}))
	})
	if err != nil {
		return nil, err
	}

	all := append(results, written...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].EmployeeID < all[j].EmployeeID })
	result := &SyncResult{RunID: runID, Month: month, StartedAt: started, CompletedAt: now, Employees: all}

	for _, r := range all {
		switch r.Outcome {
		case OutcomeFailed:
			log.WithFields(logrus.Fields{"employee": r.EmployeeID, "reason": r.Reason}).Warn("revenue aggregation failed")
		case OutcomeSkipped:
			log.WithFields(logrus.Fields{"employee": r.EmployeeID, "reason": r.Reason}).Info("employee skipped")
		}
	}
	log.WithFields(logrus.Fields{
		"synced":    result.Count(OutcomeSynced),
		"unchanged": result.Count(OutcomeUnchanged),
		"skipped":   result.Count(OutcomeSkipped),
		"failed":    result.Count(OutcomeFailed),
	}).Info("month synced")

	return result, result.Err()
}
