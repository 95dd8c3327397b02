package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march2025 = commission.NewMonth(2025, time.March)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPolicy() commission.Policy {
	at := time.Date(2025, time.January, 5, 8, 30, 0, 123456789, time.UTC)
	return commission.Policy{
		Code:           "SALES",
		Name:           "Sales",
		StandardTarget: dec("10000000"),
		AdvancedTarget: dec("20000000"),
		Tier1Percent:   dec("1"),
		Tier2Percent:   dec("1.5"),
		Tier3Percent:   dec("2.25"),
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func testRecord(emp commission.EmployeeID) commission.Record {
	snap := testPolicy().Snapshot()
	actual := dec("25000000.5")
	return commission.Record{
		EmployeeID:       emp,
		Month:            march2025,
		PolicyCode:       "SALES",
		Snapshot:         snap,
		ActualRevenue:    actual,
		ManualAdjustment: dec("-0.5"),
		Breakdown:        commission.Compute(actual, dec("-0.5"), snap),
		Status:           commission.StatusDraft,
		UpdatedAt:        time.Date(2025, time.April, 1, 12, 0, 0, 42, time.UTC),
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func TestPolicy_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := testPolicy()

	require.NoError(t, store.CreatePolicy(ctx, p))
	got, err := store.GetPolicy(ctx, "SALES")

	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, p.Snapshot().Equal(got.Snapshot()))
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
}

func TestPolicy_DuplicateAndMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreatePolicy(ctx, testPolicy()))

	assert.ErrorIs(t, store.CreatePolicy(ctx, testPolicy()), commission.ErrDuplicatePolicy)

	_, err := store.GetPolicy(ctx, "NOPE")
	assert.ErrorIs(t, err, commission.ErrPolicyNotFound)

	missing := testPolicy()
	missing.Code = "NOPE"
	assert.ErrorIs(t, store.UpdatePolicy(ctx, missing), commission.ErrPolicyNotFound)
	assert.ErrorIs(t, store.DeletePolicy(ctx, "NOPE"), commission.ErrPolicyNotFound)
}

func TestPolicy_DeleteLeavesRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreatePolicy(ctx, testPolicy()))
	require.NoError(t, store.SaveRecord(ctx, testRecord("e1")))

	require.NoError(t, store.DeletePolicy(ctx, "SALES"))

	rec, err := store.GetRecord(ctx, "e1", march2025)
	require.NoError(t, err)
	assert.True(t, rec.Snapshot.Equal(testPolicy().Snapshot()))
}

// =============================================================================
// RECORDS
// =============================================================================

func TestRecord_RoundTripIsExact(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	want := testRecord("e1")

	require.NoError(t, store.SaveRecord(ctx, want))
	got, err := store.GetRecord(ctx, "e1", march2025)

	require.NoError(t, err)
	assert.True(t, want.SameComputation(got))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
	assert.Equal(t, "25000000.5", got.ActualRevenue.String())
}

func TestRecord_UpsertAndOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveRecord(ctx, testRecord("e2")))
	require.NoError(t, store.SaveRecord(ctx, testRecord("e1")))

	locked := testRecord("e1")
	locked.Locked = true
	locked.Status = commission.StatusFinalized
	require.NoError(t, store.SaveRecord(ctx, locked))

	records, err := store.ListRecords(ctx, march2025)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, commission.EmployeeID("e1"), records[0].EmployeeID)
	assert.True(t, records[0].Locked)
	assert.Equal(t, commission.PeriodLocked, commission.PeriodStatusOf(records))

	other, err := store.ListRecords(ctx, march2025.Next())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRecord_LockedStatusMismatchRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	bad := testRecord("e1")
	bad.Locked = true // status still DRAFT

	assert.Error(t, store.SaveRecord(ctx, bad))
}

func TestRecord_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveRecord(ctx, testRecord("e1")))

	require.NoError(t, store.DeleteRecord(ctx, "e1", march2025))
	assert.ErrorIs(t, store.DeleteRecord(ctx, "e1", march2025), commission.ErrRecordNotFound)
	_, err := store.GetRecord(ctx, "e1", march2025)
	assert.ErrorIs(t, err, commission.ErrRecordNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx commission.Store) error {
		require.NoError(t, tx.SaveRecord(ctx, testRecord("e1")))
		require.NoError(t, tx.SaveRecord(ctx, testRecord("e2")))
		records, err := tx.ListRecords(ctx, march2025)
		require.NoError(t, err)
		assert.Len(t, records, 2, "writes are visible inside the transaction")
		return boom
	})

	assert.ErrorIs(t, err, boom)
	records, err := store.ListRecords(ctx, march2025)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWithTx_Commit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.WithTx(ctx, func(tx commission.Store) error {
		if err := tx.CreatePolicy(ctx, testPolicy()); err != nil {
			return err
		}
		return tx.SaveRecord(ctx, testRecord("e1"))
	})

	require.NoError(t, err)
	_, err = store.GetPolicy(ctx, "SALES")
	assert.NoError(t, err)
	_, err = store.GetRecord(ctx, "e1", march2025)
	assert.NoError(t, err)
}

// =============================================================================
// AUDIT AND SYNC RUNS
// =============================================================================

func TestAudit_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ts := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	entries := []commission.AuditEntry{
		{ID: "a1", Timestamp: ts, Actor: "alice", Action: commission.AuditSync, Month: march2025, Payload: map[string]any{"synced": 2}},
		{ID: "a2", Timestamp: ts, Actor: "admin", Action: commission.AuditPolicyCreated, PolicyCode: "SALES"},
		{ID: "a3", Timestamp: ts, Actor: "bob", Action: commission.AuditLock, Month: march2025},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendAudit(ctx, e))
	}

	got, err := store.QueryAudit(ctx, commission.AuditFilter{Month: &march2025})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a3", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)
	assert.EqualValues(t, 2, got[1].Payload["synced"])

	bob := "bob"
	got, err = store.QueryAudit(ctx, commission.AuditFilter{Actor: &bob})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = store.QueryAudit(ctx, commission.AuditFilter{Actions: []commission.AuditAction{commission.AuditPolicyCreated}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Month.IsZero())
}

func TestSyncRuns_LatestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	latest, err := store.LatestSyncRun(ctx, march2025)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, store.SaveSyncRun(ctx, commission.SyncRun{ID: "r1", Month: march2025, Actor: "alice", Synced: 2}))
	require.NoError(t, store.SaveSyncRun(ctx, commission.SyncRun{
		ID: "r2", Month: march2025, Actor: "alice", Synced: 1, Failed: 1,
		Failures: []commission.AggregationFailure{{EmployeeID: "e2", Reason: "registry timeout"}},
	}))

	latest, err = store.LatestSyncRun(ctx, march2025)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r2", latest.ID)
	assert.False(t, latest.Complete())
	require.Len(t, latest.Failures, 1)
	assert.Equal(t, commission.EmployeeID("e2"), latest.Failures[0].EmployeeID)

	runs, err := store.ListSyncRuns(ctx, march2025)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func TestLedger_QueryPaidIncome(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tax := dec("100")
	at := func(m time.Month, d int) time.Time { return time.Date(2025, m, d, 9, 0, 0, 0, time.UTC) }
	txs := []commission.Transaction{
		{ID: "t1", Type: commission.TxIncome, Status: commission.TxPaid, Amount: dec("1100"), TaxAmount: &tax, Date: at(time.March, 1), PerformerID: "e1"},
		{ID: "t2", Type: commission.TxIncome, Status: commission.TxPending, Amount: dec("500"), Date: at(time.March, 2), PerformerID: "e1"},
		{ID: "t3", Type: commission.TxExpense, Status: commission.TxPaid, Amount: dec("500"), Date: at(time.March, 3), PerformerID: "e1"},
		{ID: "t4", Type: commission.TxIncome, Status: commission.TxPaid, Amount: dec("500"), Date: at(time.April, 1), PerformerID: "e1"},
		{ID: "t5", Type: commission.TxIncome, Status: commission.TxPaid, Amount: dec("700"), TaxInclusive: true, Date: at(time.March, 31), ProjectID: "P1"},
	}
	for _, tx := range txs {
		require.NoError(t, store.SaveTransaction(ctx, tx))
	}

	got, err := store.QueryPaidIncome(ctx, march2025, commission.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	require.NotNil(t, got[0].TaxAmount)
	assert.True(t, got[0].TaxAmount.Equal(tax))
	assert.True(t, got[1].TaxInclusive)

	got, err = store.QueryPaidIncome(ctx, march2025, commission.LedgerFilter{PerformerID: "e1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestDirectoryAndProjects(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "e1", Name: "Ana", PolicyCode: "SALES"}))
	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "e2", Name: "Ben"}))

	assignments, err := store.ListWithPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, []commission.Assignment{{EmployeeID: "e1", PolicyCode: "SALES"}, {EmployeeID: "e2"}}, assignments)

	_, err = store.SalesParticipants(ctx, "P1")
	assert.ErrorIs(t, err, commission.ErrProjectNotFound)

	require.NoError(t, store.SaveProject(ctx, "P1", "Tower", []commission.EmployeeID{"e2", "e1"}))
	emps, err := store.SalesParticipants(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, []commission.EmployeeID{"e1", "e2"}, emps)
}

// =============================================================================
// END TO END
// =============================================================================

func TestService_SyncLockOnSQLite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "e1", PolicyCode: "SALES"}))
	require.NoError(t, store.SaveTransaction(ctx, commission.Transaction{
		ID: "t1", Type: commission.TxIncome, Status: commission.TxPaid, Amount: dec("25000000"),
		Date: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), PerformerID: "e1",
	}))
	agg := &commission.RevenueAggregator{Ledger: store, Projects: store, Rules: commission.DefaultRevenueRules()}
	svc := commission.NewService(store, store, agg)
	_, err := svc.CreatePolicy(ctx, testPolicy(), "admin")
	require.NoError(t, err)

	_, err = svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	again, err := svc.Sync(ctx, march2025, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Count(commission.OutcomeUnchanged), "stored decimals compare equal after a round trip")

	summary, err := svc.Lock(ctx, march2025, "bob")
	require.NoError(t, err)
	assert.Equal(t, commission.PeriodLocked, summary.Status)
	// 10M * 1% + 10M * 1.5% + 5M * 2.25% = 100000 + 150000 + 112500
	assert.True(t, dec("362500").Equal(summary.TotalCommission), summary.TotalCommission.String())

	_, err = svc.Sync(ctx, march2025, "alice")
	assert.ErrorIs(t, err, commission.ErrPeriodLocked)
}
