package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/sqlite"
)

// run executes one CLI invocation against dbPath and returns stdout.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", dbPath, "--actor", "ops"}, args...))

	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return out.String(), err
}

func seedDirectory(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "e1", Name: "Ana", PolicyCode: "SALES"}))
	require.NoError(t, store.SaveTransaction(ctx, commission.Transaction{
		ID:          "t1",
		Type:        commission.TxIncome,
		Status:      commission.TxPaid,
		Amount:      decimal.NewFromInt(250),
		Date:        time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC),
		PerformerID: "e1",
	}))
}

func TestCLI_MonthEnd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "commission.db")
	policies := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(policies, []byte(`
policies:
  - {code: SALES, name: Sales, standard_target: 100, advanced_target: 200, tier1_percent: 1, tier2_percent: 1.5, tier3_percent: 2}
`), 0o600))

	// GIVEN: policies loaded from a file and one employee with revenue
	out, err := run(t, dbPath, "policy", "put", "-f", policies)
	require.NoError(t, err)
	assert.Contains(t, out, `"code": "SALES"`)
	seedDirectory(t, dbPath)

	// WHEN: the month is synced
	out, err = run(t, dbPath, "sync", "2025-03")
	require.NoError(t, err)
	var sync api.SyncResponse
	require.NoError(t, json.Unmarshal([]byte(out), &sync))
	assert.Equal(t, 1, sync.Counts["synced"])

	// AND: recalculated and locked
	_, err = run(t, dbPath, "recalc", "2025-03", "e1", "--adjustment", "100")
	require.NoError(t, err)
	out, err = run(t, dbPath, "lock", "2025-03")
	require.NoError(t, err)
	var period api.PeriodDTO
	require.NoError(t, json.Unmarshal([]byte(out), &period))

	// THEN
	assert.Equal(t, "LOCKED", period.Status)
	assert.Equal(t, "6", period.TotalCommission)

	_, err = run(t, dbPath, "sync", "2025-03")
	assert.ErrorIs(t, err, commission.ErrPeriodLocked)
	assert.Equal(t, 3, exitCode(err))

	_, err = run(t, dbPath, "unlock", "2025-03")
	assert.Error(t, err, "reason is required")

	out, err = run(t, dbPath, "unlock", "2025-03", "--reason", "late refund")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &period))
	assert.Equal(t, "DRAFT", period.Status)

	out, err = run(t, dbPath, "audit", "2025-03", "--limit", "1")
	require.NoError(t, err)
	var audit []api.AuditEntryDTO
	require.NoError(t, json.Unmarshal([]byte(out), &audit))
	require.Len(t, audit, 1)
	assert.Equal(t, "unlock", audit[0].Action)
	assert.Equal(t, "ops", audit[0].Actor)
}

func TestCLI_ClientErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "commission.db")

	_, err := run(t, dbPath, "lock", "2025-03")
	assert.ErrorIs(t, err, commission.ErrNothingToFinalize)
	assert.Equal(t, 2, exitCode(err))

	_, err = run(t, dbPath, "status", "March")
	assert.ErrorIs(t, err, commission.ErrInvalidMonth)

	_, err = run(t, dbPath, "policy", "get", "NOPE")
	assert.Equal(t, 2, exitCode(err))
}
