/*
service.go - Orchestrates policies, aggregation, calculation and storage

PURPOSE:
  Service is the single entry point for every write to policies and
  commission records. It coordinates the RevenueAggregator, the calculator
  and the TxStore, and enforces the period lock on every write path.

STATE MACHINE (per month):
  DRAFT  --Lock-->   LOCKED   (all records locked=true, status=FINALIZED)
  LOCKED --Unlock--> DRAFT    (all records locked=false, status=DRAFT)

  Sync:           DRAFT only; adopts the live policy
  RecalculateOne: record must be unlocked; uses the record's frozen snapshot
  AddRecord:      DRAFT only
  DeleteRecord:   record must be unlocked

CONCURRENCY:
  Month-wide operations hold the month key of the Locker before reading lock
  state and keep it until their store transaction commits. The status is read
  again inside the transaction, so the check and the write are atomic.

SEE ALSO:
  - sync.go: Sync and SyncResult
  - period.go: Lock, Unlock, RecalculateOne, AddRecord, DeleteRecord
*/
package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Observer receives operational events, typically for metrics.
type Observer interface {
	SyncCompleted(month Month, result *SyncResult, elapsed time.Duration, err error)
	PeriodTransition(action AuditAction, month Month, changed int)
}

type noopObserver struct{}

func (noopObserver) SyncCompleted(Month, *SyncResult, time.Duration, error) {}
func (noopObserver) PeriodTransition(AuditAction, Month, int)              {}

type Service struct {
	store      TxStore
	directory  EmployeeDirectory
	aggregator *RevenueAggregator
	locks      *Locker
	log        logrus.FieldLogger
	observer   Observer
	now        func() time.Time
	newID      func() string

	requireCompleteSync bool
}

type Option func(*Service)

func WithLogger(log logrus.FieldLogger) Option { return func(s *Service) { s.log = log } }
func WithObserver(o Observer) Option          { return func(s *Service) { s.observer = o } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }
func WithLocker(l *Locker) Option             { return func(s *Service) { s.locks = l } }

// WithCompletenessGate makes Lock refuse a month whose latest sync had
// failures or which was never synced.
func WithCompletenessGate(enabled bool) Option {
	return func(s *Service) { s.requireCompleteSync = enabled }
}

func NewService(store TxStore, directory EmployeeDirectory, aggregator *RevenueAggregator, opts ...Option) *Service {
	s := &Service{
		store:      store,
		directory:  directory,
		aggregator: aggregator,
		locks:      NewLocker(),
		log:        logrus.StandardLogger(),
		observer:   noopObserver{},
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Service) CreatePolicy(ctx context.Context, p Policy, actor string) (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreatePolicy(ctx, p); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.audit(actor, AuditPolicyCreated, Month{}, "", p.Code, policyPayload(p)))
	})
	if err != nil {
		return Policy{}, err
	}
	s.log.WithFields(logrus.Fields{"policy": p.Code, "actor": actor}).Info("policy created")
	return p, nil
}

// UpdatePolicy replaces the policy's name and numeric fields. Existing
// records keep their snapshots; only the next Sync adopts the new values.
func (s *Service) UpdatePolicy(ctx context.Context, p Policy, actor string) (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	err := s.store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetPolicy(ctx, p.Code)
		if err != nil {
			return err
		}
		p.CreatedAt = current.CreatedAt
		p.UpdatedAt = s.now()
		if err := tx.UpdatePolicy(ctx, p); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.audit(actor, AuditPolicyUpdated, Month{}, "", p.Code, policyPayload(p)))
	})
	if err != nil {
		return Policy{}, err
	}
	s.log.WithFields(logrus.Fields{"policy": p.Code, "actor": actor}).Info("policy updated")
	return p, nil
}

// DeletePolicy removes the policy. Records that used it are untouched.
func (s *Service) DeletePolicy(ctx context.Context, code PolicyCode, actor string) error {
	err := s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetPolicy(ctx, code); err != nil {
			return err
		}
		if err := tx.DeletePolicy(ctx, code); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.audit(actor, AuditPolicyDeleted, Month{}, "", code, nil))
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"policy": code, "actor": actor}).Info("policy deleted")
	return nil
}

func (s *Service) GetPolicy(ctx context.Context, code PolicyCode) (Policy, error) {
	return s.store.GetPolicy(ctx, code)
}

func (s *Service) ListPolicies(ctx context.Context) ([]Policy, error) {
	return s.store.ListPolicies(ctx)
}

// =============================================================================
// READ VIEWS - Pure projections for payroll, export and reporting
// =============================================================================

func (s *Service) GetRecords(ctx context.Context, month Month) ([]Record, error) {
	return s.store.ListRecords(ctx, month)
}

func (s *Service) GetRecord(ctx context.Context, emp EmployeeID, month Month) (Record, error) {
	return s.store.GetRecord(ctx, emp, month)
}

func (s *Service) GetPeriodStatus(ctx context.Context, month Month) (PeriodStatus, error) {
	records, err := s.store.ListRecords(ctx, month)
	if err != nil {
		return "", err
	}
	return PeriodStatusOf(records), nil
}

func (s *Service) GetPeriod(ctx context.Context, month Month) (PeriodSummary, error) {
	records, err := s.store.ListRecords(ctx, month)
	if err != nil {
		return PeriodSummary{}, err
	}
	return SummarizePeriod(month, records), nil
}

func (s *Service) AuditTrail(ctx context.Context, month Month, limit int) ([]AuditEntry, error) {
	return s.store.QueryAudit(ctx, AuditFilter{Month: &month, Limit: limit})
}

func (s *Service) SyncRuns(ctx context.Context, month Month) ([]SyncRun, error) {
	return s.store.ListSyncRuns(ctx, month)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) audit(actor string, action AuditAction, month Month, emp EmployeeID, code PolicyCode, payload map[string]any) AuditEntry {
	return AuditEntry{
		ID:         s.newID(),
		Timestamp:  s.now(),
		Actor:      actor,
		Action:     action,
		Month:      month,
		EmployeeID: emp,
		PolicyCode: code,
		Payload:    payload,
	}
}

func policyPayload(p Policy) map[string]any {
	return map[string]any{
		"name":            p.Name,
		"standard_target": p.StandardTarget.String(),
		"advanced_target": p.AdvancedTarget.String(),
		"tier1_percent":   p.Tier1Percent.String(),
		"tier2_percent":   p.Tier2Percent.String(),
		"tier3_percent":   p.Tier3Percent.String(),
	}
}
