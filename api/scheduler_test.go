package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
)

func TestSyncScheduler_SkipsLockedMonths(t *testing.T) {
	// GIVEN: March is locked, April is open
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	dir := store.NewDirectory()
	ledger := store.NewLedger()
	svc := commission.NewService(store.NewTxMemory(), dir, &commission.RevenueAggregator{
		Ledger:   ledger,
		Projects: store.NewProjects(),
		Rules:    commission.DefaultRevenueRules(),
	}, commission.WithLogger(logger))

	_, err := svc.CreatePolicy(ctx, commission.Policy{Code: "SALES", Name: "Sales"}, "admin")
	require.NoError(t, err)
	dir.Assign("e1", "SALES")

	march := commission.NewMonth(2025, time.March)
	april := commission.NewMonth(2025, time.April)
	_, err = svc.Sync(ctx, march, "alice")
	require.NoError(t, err)
	_, err = svc.Lock(ctx, march, "alice")
	require.NoError(t, err)

	s := api.NewSyncScheduler(svc, logger, time.Hour)
	s.Now = func() time.Time { return time.Date(2025, time.April, 3, 6, 0, 0, 0, time.UTC) }

	// WHEN
	synced := s.RunOnce(ctx)

	// THEN: only April was synced, by the scheduler
	assert.Equal(t, map[commission.Month]bool{march: false, april: true}, synced)
	runs, err := svc.SyncRuns(ctx, april)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, api.SchedulerActor, runs[0].Actor)

	var skipped bool
	for _, e := range hook.AllEntries() {
		if e.Message == "month locked, skipping" && e.Data["month"] == "2025-03" {
			skipped = true
		}
	}
	assert.True(t, skipped)
}

func TestSyncScheduler_DisabledWithoutInterval(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := api.NewSyncScheduler(nil, logger, 0)

	s.Start()
	s.Stop()
}
