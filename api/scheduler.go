/*
scheduler.go - Automated month sync scheduler

PURPOSE:
  Periodically re-syncs the open months so that late-paid transactions
  reach the DRAFT records without an operator pressing "sync".

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick syncs the current month and the previous one
  - A LOCKED month is skipped; locking is the operator's decision
  - Partial failures are logged per employee and retried next tick

CONFIGURATION:
  - SYNC_INTERVAL: How often to sync (0 disables the scheduler)

USAGE:
  scheduler := NewSyncScheduler(svc, log, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SyncPeriod endpoint (manual sync)
  - commission/sync.go: Sync semantics
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/commission-engine/commission"
)

// SchedulerActor is recorded in the audit log for scheduled syncs.
const SchedulerActor = "scheduler"

// SyncScheduler handles automated syncs of the open months.
type SyncScheduler struct {
	Service       *commission.Service
	CheckInterval time.Duration
	Now           func() time.Time

	log    logrus.FieldLogger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSyncScheduler(svc *commission.Service, log logrus.FieldLogger, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{
		Service:       svc,
		CheckInterval: interval,
		Now:           time.Now,
		log:           log.WithField("component", "sync-scheduler"),
	}
}

// Start begins the scheduler. A non-positive interval leaves it disabled.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CheckInterval <= 0 {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.log.WithField("interval", s.CheckInterval.String()).Info("started")
}

// Stop waits for an in-flight run to finish.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("stopped")
}

func (s *SyncScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	s.RunOnce(ctx)
	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunOnce syncs the previous and the current month and reports, per month,
// whether records were synced.
func (s *SyncScheduler) RunOnce(ctx context.Context) map[commission.Month]bool {
	current := commission.MonthOf(s.Now())
	synced := make(map[commission.Month]bool, 2)
	for _, month := range []commission.Month{current.Previous(), current} {
		synced[month] = s.syncMonth(ctx, month)
	}
	return synced
}

func (s *SyncScheduler) syncMonth(ctx context.Context, month commission.Month) bool {
	log := s.log.WithField("month", month.String())

	result, err := s.Service.Sync(ctx, month, SchedulerActor)
	var partial *commission.PartialAggregationError
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{
			"synced":    result.Count(commission.OutcomeSynced),
			"unchanged": result.Count(commission.OutcomeUnchanged),
		}).Debug("scheduled sync completed")
		return true
	case errors.Is(err, commission.ErrPeriodLocked):
		log.Debug("month locked, skipping")
		return false
	case errors.As(err, &partial):
		for _, f := range partial.Failures {
			log.WithFields(logrus.Fields{"employee": f.EmployeeID, "reason": f.Reason}).Warn("scheduled sync: employee failed")
		}
		return true
	default:
		log.WithError(err).Error("scheduled sync failed")
		return false
	}
}
