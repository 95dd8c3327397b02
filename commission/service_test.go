package commission_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	svc      *commission.Service
	store    *store.TxMemory
	dir      *store.Directory
	ledger   *store.Ledger
	projects *store.Projects
	hook     *test.Hook
}

// tickingClock advances one second per call so every write gets a distinct timestamp.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newFixture(t *testing.T, opts ...commission.Option) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		store:    store.NewTxMemory(),
		dir:      store.NewDirectory(),
		ledger:   store.NewLedger(),
		projects: store.NewProjects(),
		hook:     hook,
	}
	opts = append([]commission.Option{commission.WithLogger(logger), commission.WithClock(tickingClock())}, opts...)
	f.svc = commission.NewService(f.store, f.dir, newAggregator(f.ledger, f.projects), opts...)

	_, err := f.svc.CreatePolicy(context.Background(), salesPolicy(), "admin")
	require.NoError(t, err)
	return f
}

func salesPolicy() commission.Policy {
	snap := salesSnapshot()
	return commission.Policy{
		Code:           "SALES",
		Name:           "Sales representative",
		StandardTarget: snap.StandardTarget,
		AdvancedTarget: snap.AdvancedTarget,
		Tier1Percent:   snap.Tier1Percent,
		Tier2Percent:   snap.Tier2Percent,
		Tier3Percent:   snap.Tier3Percent,
	}
}

// seedTwoReps: e1 earns 250 directly, e2 earns 1000 directly.
func (f *fixture) seedTwoReps() {
	f.dir.Assign("e1", "SALES")
	f.dir.Assign("e2", "SALES")
	f.ledger.Add(
		income("t1", "e1", "", "250", 3),
		income("t2", "e2", "", "1000", 4),
	)
}

func (f *fixture) record(t *testing.T, emp commission.EmployeeID) commission.Record {
	t.Helper()
	rec, err := f.svc.GetRecord(context.Background(), emp, march2025)
	require.NoError(t, err)
	return rec
}

// =============================================================================
// SYNC
// =============================================================================

func TestSync_CreatesDraftRecordsFromLivePolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()

	result, err := f.svc.Sync(ctx, march2025, "alice")

	require.NoError(t, err)
	assert.Equal(t, 2, result.Count(commission.OutcomeSynced))
	rec := f.record(t, "e1")
	assert.Equal(t, commission.StatusDraft, rec.Status)
	assert.False(t, rec.Locked)
	assert.Equal(t, commission.PolicyCode("SALES"), rec.PolicyCode)
	assert.True(t, rec.Snapshot.Equal(salesSnapshot()))
	assertDec(t, "250", rec.ActualRevenue, "actual")
	assertDec(t, "4", rec.Breakdown.TotalCommission, "total")
	assertDec(t, "19", f.record(t, "e2").Breakdown.TotalCommission, "e2 total")

	period, err := f.svc.GetPeriod(ctx, march2025)
	require.NoError(t, err)
	assert.Equal(t, commission.PeriodDraft, period.Status)
	assert.Equal(t, 2, period.Records)
	assertDec(t, "23", period.TotalCommission, "period total")
}

func TestSync_IsIdempotent(t *testing.T) {
	// GIVEN: A synced month
	// WHEN: Syncing again with unchanged inputs
	// THEN: Nothing is rewritten, records keep their original timestamps

	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	before, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)

	result, err := f.svc.Sync(ctx, march2025, "alice")

	require.NoError(t, err)
	assert.Equal(t, 2, result.Count(commission.OutcomeUnchanged))
	assert.Equal(t, 0, result.Count(commission.OutcomeSynced))
	after, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSync_SkipsEmployeesWithoutResolvablePolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.dir.Assign("e1", "SALES")
	f.dir.Assign("intern", "")
	f.dir.Assign("ghost", "NO_SUCH_POLICY")

	result, err := f.svc.Sync(ctx, march2025, "alice")

	require.NoError(t, err)
	assert.Equal(t, 2, result.Count(commission.OutcomeSkipped))
	records, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, commission.EmployeeID("e1"), records[0].EmployeeID)
	assertDec(t, "0", records[0].Breakdown.TotalCommission, "zero revenue yields zero commission")
}

func TestSync_PartialFailure_WritesOthersAndReportsFailures(t *testing.T) {
	// GIVEN: e2's only revenue comes through a project whose participants
	//        become unresolvable after the first sync
	// WHEN: Syncing again
	// THEN: e1 is written, e2 is reported failed and keeps its previous record

	ctx := context.Background()
	f := newFixture(t)
	f.dir.Assign("e1", "SALES")
	f.dir.Assign("e2", "SALES")
	f.projects.SetParticipants("P1", "e1", "e2")
	f.ledger.Add(income("t1", "e1", "P1", "250", 3))
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	previous := f.record(t, "e2")

	f.projects.Fail("P1", errors.New("registry timeout"))
	f.ledger.Add(income("t2", "e1", "", "100", 4))
	result, err := f.svc.Sync(ctx, march2025, "alice")

	var partial *commission.PartialAggregationError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, commission.ErrPartialAggregation)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, commission.EmployeeID("e2"), partial.Failures[0].EmployeeID)
	assert.Contains(t, partial.Failures[0].Reason, "registry timeout")

	require.NotNil(t, result)
	assert.Equal(t, 1, result.Count(commission.OutcomeSynced))
	assertDec(t, "350", f.record(t, "e1").ActualRevenue, "e1 rewritten")
	assert.Equal(t, previous, f.record(t, "e2"), "e2 untouched")

	runs, err := f.svc.SyncRuns(ctx, march2025)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.False(t, runs[0].Complete(), "latest run first")
	assert.Equal(t, 1, runs[0].Failed)
}

func TestSync_PreservesManualAdjustment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	_, err = f.svc.RecalculateOne(ctx, "e1", march2025, dec("50"), "alice")
	require.NoError(t, err)

	_, err = f.svc.Sync(ctx, march2025, "alice")

	require.NoError(t, err)
	rec := f.record(t, "e1")
	assertDec(t, "50", rec.ManualAdjustment, "adjustment kept")
	assertDec(t, "5", rec.Breakdown.TotalCommission, "250 + 50 = 300 -> 1 + 2 + 2")
}

func TestSync_RejectsZeroMonth(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Sync(context.Background(), commission.Month{}, "alice")

	assert.ErrorIs(t, err, commission.ErrInvalidMonth)
	assert.True(t, commission.IsClientError(err))
}

// =============================================================================
// SNAPSHOT ISOLATION
// =============================================================================

func TestPolicyEdit_DoesNotChangeExistingRecords(t *testing.T) {
	// GIVEN: A synced record computed with tier 1 at 1%
	// WHEN: The policy is edited to 10% and the record is recalculated
	// THEN: The record still uses its frozen snapshot, until the next Sync

	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)

	edited := salesPolicy()
	edited.Tier1Percent = dec("10")
	_, err = f.svc.UpdatePolicy(ctx, edited, "admin")
	require.NoError(t, err)

	rec, err := f.svc.RecalculateOne(ctx, "e1", march2025, decimal.Zero, "alice")
	require.NoError(t, err)
	assert.True(t, rec.Snapshot.Equal(salesSnapshot()))
	assertDec(t, "4", rec.Breakdown.TotalCommission, "old snapshot")

	_, err = f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	rec = f.record(t, "e1")
	assertDec(t, "10", rec.Snapshot.Tier1Percent, "adopted on sync")
	assertDec(t, "13", rec.Breakdown.TotalCommission, "10 + 2 + 1")
}

func TestPolicyDelete_LeavesRecordsIntact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	before := f.record(t, "e1")

	require.NoError(t, f.svc.DeletePolicy(ctx, "SALES", "admin"))

	assert.Equal(t, before, f.record(t, "e1"))
	rec, err := f.svc.RecalculateOne(ctx, "e1", march2025, dec("1"), "alice")
	require.NoError(t, err, "recalculation needs only the snapshot")
	assert.Equal(t, commission.PolicyCode("SALES"), rec.PolicyCode)
}

// =============================================================================
// RECALCULATE ONE
// =============================================================================

func TestRecalculateOne_MissingRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecalculateOne(context.Background(), "nobody", march2025, dec("10"), "alice")

	assert.ErrorIs(t, err, commission.ErrRecordNotFound)
	assert.True(t, commission.IsNotFound(err))
}

func TestRecalculateOne_NegativeAdjustmentClamps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)

	rec, err := f.svc.RecalculateOne(ctx, "e1", march2025, dec("-1000"), "alice")

	require.NoError(t, err)
	assertDec(t, "0", rec.Breakdown.Effective, "effective")
	assertDec(t, "0", rec.Breakdown.TotalCommission, "total")
	assertDec(t, "-1000", rec.ManualAdjustment, "adjustment stored as given")
}

// =============================================================================
// LOCK / UNLOCK
// =============================================================================

func TestLock_FinalizesEveryRecordAndBlocksWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)

	summary, err := f.svc.Lock(ctx, march2025, "bob")

	require.NoError(t, err)
	assert.Equal(t, commission.PeriodLocked, summary.Status)
	assert.Equal(t, 2, summary.LockedRecords)
	before, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)
	for _, r := range before {
		assert.True(t, r.Locked)
		assert.Equal(t, commission.StatusFinalized, r.Status)
	}

	// Every write path is rejected without side effects.
	f.ledger.Add(income("late", "e1", "", "5000", 20))

	_, err = f.svc.Sync(ctx, march2025, "alice")
	assert.ErrorIs(t, err, commission.ErrPeriodLocked)

	_, err = f.svc.RecalculateOne(ctx, "e1", march2025, dec("100"), "alice")
	var locked *commission.PeriodLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, commission.EmployeeID("e1"), locked.EmployeeID)

	_, err = f.svc.AddRecord(ctx, commission.ManualRecordInput{EmployeeID: "e3", Month: march2025, PolicyCode: "SALES"}, "alice")
	assert.ErrorIs(t, err, commission.ErrPeriodLocked)

	err = f.svc.DeleteRecord(ctx, "e1", march2025, "alice")
	assert.ErrorIs(t, err, commission.ErrPeriodLocked)
	assert.True(t, commission.IsConflict(err))

	after, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLock_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, march2025, "bob")
	require.NoError(t, err)
	before, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)

	_, err = f.svc.Lock(ctx, march2025, "bob")

	require.NoError(t, err)
	after, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	entries, err := f.store.QueryAudit(ctx, commission.AuditFilter{Actions: []commission.AuditAction{commission.AuditLock}})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no-op lock is not audited")
}

func TestLock_EmptyMonth(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Lock(context.Background(), march2025, "bob")

	assert.ErrorIs(t, err, commission.ErrNothingToFinalize)
	assert.True(t, commission.IsClientError(err))
}

func TestLockUnlock_RoundTrip(t *testing.T) {
	// GIVEN: A locked month
	// WHEN: Unlocking
	// THEN: Every record is back to DRAFT, the warning is logged with the actor,
	//       and the month can be synced again

	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, march2025, "bob")
	require.NoError(t, err)

	summary, err := f.svc.Unlock(ctx, march2025, "carol", "late refund")

	require.NoError(t, err)
	assert.Equal(t, commission.PeriodDraft, summary.Status)
	records, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)
	for _, r := range records {
		assert.False(t, r.Locked)
		assert.Equal(t, commission.StatusDraft, r.Status)
	}

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["actor"] == "carol" && e.Data["reason"] == "late refund" {
			warned = true
		}
	}
	assert.True(t, warned, "unlock must log a warning naming the actor and reason")

	_, err = f.svc.Sync(ctx, march2025, "alice")
	assert.NoError(t, err)
}

func TestUnlock_DraftMonthIsNoop(t *testing.T) {
	f := newFixture(t)

	summary, err := f.svc.Unlock(context.Background(), march2025, "carol", "")

	require.NoError(t, err)
	assert.Equal(t, commission.PeriodDraft, summary.Status)
	assert.Equal(t, 0, summary.Records)
}

func TestLock_CompletenessGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, commission.WithCompletenessGate(true))
	f.dir.Assign("e1", "SALES")
	f.dir.Assign("e2", "SALES")
	f.projects.Fail("P1", errors.New("registry timeout"))
	f.ledger.Add(income("t1", "e1", "P1", "250", 3))

	// Never synced.
	_, err := f.svc.AddRecord(ctx, commission.ManualRecordInput{EmployeeID: "e1", Month: march2025, PolicyCode: "SALES", ActualRevenue: ptr(dec("10"))}, "alice")
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, march2025, "bob")
	assert.ErrorIs(t, err, commission.ErrIncompleteSync)

	// Latest sync incomplete.
	_, err = f.svc.Sync(ctx, march2025, "alice")
	require.ErrorIs(t, err, commission.ErrPartialAggregation)
	_, err = f.svc.Lock(ctx, march2025, "bob")
	assert.ErrorIs(t, err, commission.ErrIncompleteSync)
	assert.True(t, commission.IsConflict(err))

	// Fixed.
	f.projects.SetParticipants("P1", "e1")
	_, err = f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, march2025, "bob")
	assert.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// MANUAL RECORDS
// =============================================================================

func TestAddRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Add(income("t1", "e9", "", "250", 3))

	rec, err := f.svc.AddRecord(ctx, commission.ManualRecordInput{EmployeeID: "e9", Month: march2025, PolicyCode: "SALES"}, "alice")

	require.NoError(t, err)
	assertDec(t, "250", rec.ActualRevenue, "aggregated when not given")
	assertDec(t, "4", rec.Breakdown.TotalCommission, "total")

	_, err = f.svc.AddRecord(ctx, commission.ManualRecordInput{EmployeeID: "e9", Month: march2025, PolicyCode: "SALES"}, "alice")
	assert.ErrorIs(t, err, commission.ErrDuplicateRecord)

	_, err = f.svc.AddRecord(ctx, commission.ManualRecordInput{EmployeeID: "e10", Month: march2025, PolicyCode: "NOPE"}, "alice")
	assert.ErrorIs(t, err, commission.ErrPolicyNotFound)
}

func TestDeleteRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteRecord(ctx, "e1", march2025, "alice"))

	_, err = f.svc.GetRecord(ctx, "e1", march2025)
	assert.ErrorIs(t, err, commission.ErrRecordNotFound)
	err = f.svc.DeleteRecord(ctx, "e1", march2025, "alice")
	assert.ErrorIs(t, err, commission.ErrRecordNotFound)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestCreatePolicy_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreatePolicy(ctx, salesPolicy(), "admin")
	assert.ErrorIs(t, err, commission.ErrDuplicatePolicy)

	bad := salesPolicy()
	bad.Code = "BAD"
	bad.Tier2Percent = dec("150")
	_, err = f.svc.CreatePolicy(ctx, bad, "admin")
	var ve *commission.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Tier2Percent", ve.Field)

	bad = salesPolicy()
	bad.Code = "NEG"
	bad.StandardTarget = dec("-1")
	_, err = f.svc.CreatePolicy(ctx, bad, "admin")
	assert.True(t, commission.IsClientError(err))

	missing := salesPolicy()
	missing.Code = ""
	_, err = f.svc.CreatePolicy(ctx, missing, "admin")
	assert.ErrorIs(t, err, commission.ErrValidation)
}

func TestUpdatePolicy_Missing(t *testing.T) {
	f := newFixture(t)
	p := salesPolicy()
	p.Code = "OTHER"

	_, err := f.svc.UpdatePolicy(context.Background(), p, "admin")

	assert.ErrorIs(t, err, commission.ErrPolicyNotFound)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAuditTrail_NewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, march2025, "bob")
	require.NoError(t, err)
	_, err = f.svc.Unlock(ctx, march2025, "carol", "reopen")
	require.NoError(t, err)

	entries, err := f.svc.AuditTrail(ctx, march2025, 0)

	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, commission.AuditUnlock, entries[0].Action)
	assert.Equal(t, "carol", entries[0].Actor)
	assert.Equal(t, commission.AuditLock, entries[1].Action)
	assert.Equal(t, commission.AuditSync, entries[2].Action)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentSyncRecalculateAndLock(t *testing.T) {
	// GIVEN: Syncs and recalculations racing with a Lock
	// THEN: Every write either lands before the lock or fails with ErrPeriodLocked,
	//       and the month ends fully locked

	ctx := context.Background()
	f := newFixture(t)
	f.seedTwoReps()
	_, err := f.svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.Sync(ctx, march2025, "alice")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.RecalculateOne(ctx, "e1", march2025, decimal.NewFromInt(int64(i)), "alice")
			errs <- err
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.svc.Lock(ctx, march2025, "bob")
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, commission.ErrPeriodLocked)
		}
	}
	records, err := f.svc.GetRecords(ctx, march2025)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, r.Locked)
		assert.Equal(t, commission.StatusFinalized, r.Status)
	}
}
