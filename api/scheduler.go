/*
scheduler.go - Periodic flag reconciliation

PURPOSE:
  Keeps the INSUFFICIENT_STOCK flag of pending suggestions in step with
  national stock even when nobody is reading the list. Reads already
  refresh flags; this covers dashboards that only poll counts.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each pass has its own timeout so a stuck database cannot pile up passes

USAGE:
  scheduler := NewReconciliationScheduler(manager, logger)
  scheduler.CheckInterval = cfg.ReconcileInterval
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ReconcileFlags endpoint (manual reconciliation)
  - suggestion/manager.go: ReconcileFlags
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reconciler is the part of suggestion.Manager the scheduler drives.
type Reconciler interface {
	ReconcileFlags(ctx context.Context) (int, error)
}

// ReconciliationScheduler runs flag reconciliation on a ticker.
type ReconciliationScheduler struct {
	Reconciler    Reconciler
	CheckInterval time.Duration
	PassTimeout   time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(r Reconciler, log *zap.Logger) *ReconciliationScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Reconciler:    r,
		CheckInterval: time.Minute,
		PassTimeout:   30 * time.Second,
		Enabled:       true,
		log:           log.Named("scheduler"),
	}
}

// Start begins the scheduler. A zero interval disables it.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.log.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.log.Info("started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("stopped")
	}
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunOnce()

	for {
		select {
		case <-ticker.C:
			rs.RunOnce()
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (rs *ReconciliationScheduler) RunOnce() int {
	ctx, cancel := context.WithTimeout(context.Background(), rs.PassTimeout)
	defer cancel()

	changed, err := rs.Reconciler.ReconcileFlags(ctx)
	if err != nil {
		rs.log.Error("reconciliation failed", zap.Error(err))
		return changed
	}
	rs.log.Debug("reconciliation pass", zap.Int("changed", changed))
	return changed
}
