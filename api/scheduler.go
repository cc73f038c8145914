/*
scheduler.go - Periodic ledger reconciliation

PURPOSE:
  Runs ledger.Reconcile on a fixed interval and records every run. A run
  never repairs balances; discrepancies are logged at Error with
  event=reconciliation and exported through the ledger_discrepancies gauge.

DESIGN:
  - Background goroutine with a configurable check interval
  - Runs once immediately on Start
  - The check reads through WithTx so every account is seen at one point
  - Each run is stored as running, then completed or failed

USAGE:
  scheduler := NewReconciliationScheduler(store, store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerReconciliation endpoint (manual run)
  - ledger/reconcile.go: The check itself
*/
package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/logging"
	"github.com/ruanggamer/reward-engine/monitoring"
	"github.com/ruanggamer/reward-engine/store/sqlite"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunStore persists reconciliation history. *sqlite.Store implements it.
type RunStore interface {
	SaveReconciliationRun(ctx context.Context, r sqlite.ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]sqlite.ReconciliationRun, error)
}

// ReconciliationScheduler runs ledger reconciliation on an interval.
type ReconciliationScheduler struct {
	Store         ledger.TxStore
	Runs          RunStore // optional
	CheckInterval time.Duration
	Enabled       bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

func NewReconciliationScheduler(store ledger.TxStore, runs RunStore, logger *zap.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Store:         store,
		Runs:          runs,
		CheckInterval: time.Hour,
		Enabled:       true,
		logger:        logging.OrNop(logger).With(zap.String("component", "reconciliation")),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.logger.Info("scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.logger.Info("scheduler stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rs.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			rs.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce reconciles every account and records the run. Runs never overlap.
func (rs *ReconciliationScheduler) RunOnce(ctx context.Context) sqlite.ReconciliationRun {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	run := sqlite.ReconciliationRun{
		ID:        uuid.NewString(),
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	rs.save(ctx, run)

	var report *ledger.ReconcileReport
	err := rs.Store.WithTx(ctx, func(st ledger.Store) error {
		r, err := ledger.Reconcile(ctx, st)
		report = r
		return err
	})

	done := time.Now().UTC()
	run.CompletedAt = &done
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err.Error()
		rs.logger.Error("reconciliation failed", zap.String("run_id", run.ID), zap.Error(err))
		rs.save(ctx, run)
		return run
	}

	run.Status = RunStatusCompleted
	run.AccountsChecked = report.AccountsChecked
	run.Discrepancies = len(report.Discrepancies)
	if details, err := json.Marshal(report.Discrepancies); err == nil {
		run.DetailsJSON = string(details)
	}
	monitoring.LedgerDiscrepancies.Set(float64(run.Discrepancies))

	for _, d := range report.Discrepancies {
		rs.logger.Error("ledger discrepancy",
			zap.String("event", "reconciliation"),
			zap.String("run_id", run.ID),
			zap.String("account_id", string(d.AccountID)),
			zap.String("balance", d.Balance.String()),
			zap.String("expected", d.Expected.String()),
			zap.String("diff", d.Diff.String()))
	}
	rs.logger.Info("reconciliation completed",
		zap.String("run_id", run.ID),
		zap.Int("accounts_checked", run.AccountsChecked),
		zap.Int("discrepancies", run.Discrepancies))

	rs.save(ctx, run)
	return run
}

func (rs *ReconciliationScheduler) save(ctx context.Context, run sqlite.ReconciliationRun) {
	if rs.Runs == nil {
		return
	}
	// A cancelled run still records its outcome.
	if err := rs.Runs.SaveReconciliationRun(context.WithoutCancel(ctx), run); err != nil {
		rs.logger.Warn("failed to record reconciliation run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
