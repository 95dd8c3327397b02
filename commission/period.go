package commission

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// LOCK / UNLOCK - Month-wide batch transitions
// =============================================================================

// Lock finalizes every record of the month (locked=true, status=FINALIZED).
// A month without records fails with ErrNothingToFinalize. Locking an already
// LOCKED month is idempotent. With the completeness gate enabled, a month
// whose latest sync had failures (or that was never synced) is rejected
// with ErrIncompleteSync.
func (s *Service) Lock(ctx context.Context, month Month, actor string) (PeriodSummary, error) {
	return s.transition(ctx, month, actor, AuditLock, "")
}

// Unlock returns every record of the month to DRAFT. This withdraws the
// "finalized" guarantee payroll relies on, so it is logged at warning level
// with the actor and reason and recorded in the audit log.
func (s *Service) Unlock(ctx context.Context, month Month, actor, reason string) (PeriodSummary, error) {
	return s.transition(ctx, month, actor, AuditUnlock, reason)
}

func (s *Service) transition(ctx context.Context, month Month, actor string, action AuditAction, reason string) (PeriodSummary, error) {
	if month.IsZero() {
		return PeriodSummary{}, ErrInvalidMonth
	}
	release, err := s.locks.Acquire(ctx, monthKey(month))
	if err != nil {
		return PeriodSummary{}, err
	}
	defer release()

	lock := action == AuditLock
	var (
		summary PeriodSummary
		changed int
	)
	err = s.store.WithTx(ctx, func(tx Store) error {
		records, err := tx.ListRecords(ctx, month)
		if err != nil {
			return err
		}
		if lock && len(records) == 0 {
			return fmt.Errorf("lock %s: %w", month, ErrNothingToFinalize)
		}
		if lock && s.requireCompleteSync {
			if err := checkComplete(ctx, tx, month); err != nil {
				return err
			}
		}

		now := s.now()
		changed = 0
		for i, r := range records {
			if r.Locked == lock && r.Status == statusFor(lock) {
				continue
			}
			r.Locked = lock
			r.Status = statusFor(lock)
			r.UpdatedAt = now
			if err := tx.SaveRecord(ctx, r); err != nil {
				return err
			}
			records[i] = r
			changed++
		}
		summary = SummarizePeriod(month, records)
		if changed == 0 {
			return nil
		}
		payload := map[string]any{
			"records":          len(records),
			"changed":          changed,
			"total_commission": summary.TotalCommission.String(),
		}
		if reason != "" {
			payload["reason"] = reason
		}
		return tx.AppendAudit(ctx, s.audit(actor, action, month, "", "", payload))
	})
	if err != nil {
		return PeriodSummary{}, err
	}

	log := s.log.WithFields(logrus.Fields{
		"month":   month.String(),
		"actor":   actor,
		"records": summary.Records,
		"changed": changed,
	})
	switch {
	case changed == 0:
		log.Debugf("%s: nothing to change", action)
	case lock:
		log.Info("period locked")
	default:
		log.WithField("reason", reason).Warn("period unlocked: finalized commissions reopened")
	}
	s.observer.PeriodTransition(action, month, changed)
	return summary, nil
}

func statusFor(locked bool) RecordStatus {
	if locked {
		return StatusFinalized
	}
	return StatusDraft
}

func checkComplete(ctx context.Context, tx Store, month Month) error {
	run, err := tx.LatestSyncRun(ctx, month)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("lock %s: never synced: %w", month, ErrIncompleteSync)
	}
	if !run.Complete() {
		return fmt.Errorf("lock %s: %d employee(s) failed in run %s: %w", month, run.Failed, run.ID, ErrIncompleteSync)
	}
	return nil
}

// =============================================================================
// RECALCULATE ONE - Apply a manual adjustment against the frozen snapshot
// =============================================================================

// RecalculateOne sets the record's manual adjustment and recomputes it using
// the record's own PolicySnapshot, never the live policy. A locked record
// fails with *PeriodLockedError and is left unchanged.
func (s *Service) RecalculateOne(ctx context.Context, emp EmployeeID, month Month, adjustment decimal.Decimal, actor string) (Record, error) {
	release, err := s.locks.Acquire(ctx, recordKey(emp, month))
	if err != nil {
		return Record{}, err
	}
	defer release()

	var out Record
	err = s.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetRecord(ctx, emp, month)
		if err != nil {
			return err
		}
		if rec.Locked {
			return &PeriodLockedError{Month: month, EmployeeID: emp}
		}
		previous := rec.ManualAdjustment
		rec.ManualAdjustment = adjustment
		rec.Breakdown = Compute(rec.ActualRevenue, adjustment, rec.Snapshot)
		rec.UpdatedAt = s.now()
		if err := tx.SaveRecord(ctx, rec); err != nil {
			return err
		}
		out = rec
		return tx.AppendAudit(ctx, s.audit(actor, AuditRecalculate, month, emp, rec.PolicyCode, map[string]any{
			"previous_adjustment": previous.String(),
			"adjustment":          adjustment.String(),
			"total_commission":    rec.Breakdown.TotalCommission.String(),
		}))
	})
	if err != nil {
		return Record{}, err
	}
	s.log.WithFields(logrus.Fields{
		"month":      month.String(),
		"employee":   emp,
		"actor":      actor,
		"adjustment": adjustment.String(),
	}).Info("record recalculated")
	return out, nil
}

// =============================================================================
// MANUAL ADD / DELETE - Single-record writes in a DRAFT month
// =============================================================================

type ManualRecordInput struct {
	EmployeeID EmployeeID
	Month      Month
	PolicyCode PolicyCode

	// ActualRevenue is aggregated from the ledger when nil.
	ActualRevenue    *decimal.Decimal
	ManualAdjustment decimal.Decimal
}

// AddRecord creates a record outside of Sync using the live policy. It fails
// with ErrDuplicateRecord if one exists and *PeriodLockedError on a LOCKED month.
func (s *Service) AddRecord(ctx context.Context, in ManualRecordInput, actor string) (Record, error) {
	if in.EmployeeID == "" {
		return Record{}, &ValidationError{Field: "EmployeeID", Reason: "is required"}
	}
	if in.Month.IsZero() {
		return Record{}, ErrInvalidMonth
	}
	release, err := s.locks.Acquire(ctx, monthKey(in.Month))
	if err != nil {
		return Record{}, err
	}
	defer release()

	policy, err := s.store.GetPolicy(ctx, in.PolicyCode)
	if err != nil {
		return Record{}, err
	}

	var actual decimal.Decimal
	if in.ActualRevenue != nil {
		actual = *in.ActualRevenue
	} else {
		rev, err := s.aggregator.Revenue(ctx, in.Month, in.EmployeeID)
		if err != nil {
			return Record{}, err
		}
		actual = rev.Amount
	}

	rec := Record{
		EmployeeID:       in.EmployeeID,
		Month:            in.Month,
		PolicyCode:       policy.Code,
		Snapshot:         policy.Snapshot(),
		ActualRevenue:    actual,
		ManualAdjustment: in.ManualAdjustment,
		Breakdown:        Compute(actual, in.ManualAdjustment, policy.Snapshot()),
		Status:           StatusDraft,
		UpdatedAt:        s.now(),
	}
	err = s.store.WithTx(ctx, func(tx Store) error {
		records, err := tx.ListRecords(ctx, in.Month)
		if err != nil {
			return err
		}
		if PeriodStatusOf(records) == PeriodLocked {
			return &PeriodLockedError{Month: in.Month}
		}
		for _, r := range records {
			if r.EmployeeID == in.EmployeeID {
				return fmt.Errorf("%s/%s: %w", in.EmployeeID, in.Month, ErrDuplicateRecord)
			}
		}
		if err := tx.SaveRecord(ctx, rec); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.audit(actor, AuditManualAdd, in.Month, in.EmployeeID, policy.Code, map[string]any{
			"actual_revenue":    actual.String(),
			"manual_adjustment": in.ManualAdjustment.String(),
			"total_commission":  rec.Breakdown.TotalCommission.String(),
		}))
	})
	if err != nil {
		return Record{}, err
	}
	s.log.WithFields(logrus.Fields{"month": in.Month.String(), "employee": in.EmployeeID, "actor": actor}).Info("record added")
	return rec, nil
}

// DeleteRecord removes an unlocked record.
func (s *Service) DeleteRecord(ctx context.Context, emp EmployeeID, month Month, actor string) error {
	release, err := s.locks.Acquire(ctx, monthKey(month))
	if err != nil {
		return err
	}
	defer release()

	err = s.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetRecord(ctx, emp, month)
		if err != nil {
			return err
		}
		if rec.Locked {
			return &PeriodLockedError{Month: month, EmployeeID: emp}
		}
		if err := tx.DeleteRecord(ctx, emp, month); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.audit(actor, AuditRecordDeleted, month, emp, rec.PolicyCode, map[string]any{
			"total_commission": rec.Breakdown.TotalCommission.String(),
		}))
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"month": month.String(), "employee": emp, "actor": actor}).Info("record deleted")
	return nil
}
