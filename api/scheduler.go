/*
scheduler.go - Annual balance reset scheduler

PURPOSE:
  Resets every employee's annual balance once per calendar year without an
  operator having to call POST /api/admin/reset-balances.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each check asks for a reset of the current year, in Location
  - The first check ever only records that year as a baseline; balances
    are reset when a later year is first seen
  - leave.Service.RunScheduledReset records the run, so a year is reset at
    most once even across restarts or several server processes

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled:       Whether the scheduler is active (default: false)
  - Value:         Balance every employee is reset to

USAGE:
  scheduler := NewResetScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ResetBalances endpoint (manual reset)
  - leave/service.go: RunScheduledReset
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// ResetRunner is the part of leave.Service the scheduler drives.
type ResetRunner interface {
	RunScheduledReset(ctx context.Context, year, value int) (affected int, ran bool, err error)
}

var _ ResetRunner = (*leave.Service)(nil)

// ResetScheduler handles the automated yearly reset.
type ResetScheduler struct {
	Runner        ResetRunner
	CheckInterval time.Duration
	Enabled       bool
	Value         int
	Location      *time.Location
	Clock         func() time.Time

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewResetScheduler(runner ResetRunner, logger *zap.Logger) *ResetScheduler {
	if logger == nil {
		logger = zap.L().Named("api.scheduler")
	}
	return &ResetScheduler{
		Runner:        runner,
		CheckInterval: time.Hour,
		Value:         leave.DefaultInitialBalance,
		Location:      time.Local,
		Clock:         time.Now,
		logger:        logger,
	}
}

// Start begins the scheduler.
func (rs *ResetScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger.Info("annual reset scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run()

	rs.logger.Info("annual reset scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for a running check to finish.
func (rs *ResetScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.logger.Info("annual reset scheduler stopped")
}

func (rs *ResetScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunNow performs one check. It returns whether a reset was applied.
func (rs *ResetScheduler) RunNow(ctx context.Context) bool {
	year := rs.Clock().In(rs.location()).Year()

	affected, ran, err := rs.Runner.RunScheduledReset(ctx, year, rs.Value)
	if err != nil {
		rs.logger.Error("annual reset failed", zap.Int("year", year), zap.Error(err))
		return false
	}
	if !ran {
		rs.logger.Debug("annual reset already done", zap.Int("year", year))
		return false
	}
	rs.logger.Info("annual reset applied", zap.Int("year", year), zap.Int("affected", affected))
	return true
}

func (rs *ResetScheduler) location() *time.Location {
	if rs.Location == nil {
		return time.Local
	}
	return rs.Location
}
