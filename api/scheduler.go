/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Periodically re-verifies every unit's credit ledger and keeps the outcome
  of the latest run for the admin API and the metrics endpoint.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, then on every tick
  - A broken ledger is logged and counted, never repaired
  - Only the latest run is kept; history lives in the logs

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewLedgerAuditScheduler(svc, metrics, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: VerifyLedgers endpoint (on-demand verification)
  - payments/report.go: Service.VerifyLedgers
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/propledger/allocation-engine/observability"
	"github.com/propledger/allocation-engine/payments"
)

// LedgerAuditRun is the outcome of one audit pass.
type LedgerAuditRun struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Units       int
	Broken      []payments.LedgerReport
	Err         error
}

// LedgerAuditScheduler re-verifies every ledger on an interval.
type LedgerAuditScheduler struct {
	Service       *payments.Service
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *LedgerAuditRun
}

// NewLedgerAuditScheduler creates a new scheduler.
func NewLedgerAuditScheduler(svc *payments.Service, metrics *observability.Metrics, logger *zap.Logger) *LedgerAuditScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerAuditScheduler{
		Service:       svc,
		Metrics:       metrics,
		Logger:        logger.Named("ledger_audit"),
		CheckInterval: time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *LedgerAuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight audit to finish.
func (s *LedgerAuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("stopped")
	}
}

func (s *LedgerAuditScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	s.audit(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.audit(ctx)
		case <-s.stop:
			return
		}
	}
}

func (s *LedgerAuditScheduler) audit(ctx context.Context) LedgerAuditRun {
	run := LedgerAuditRun{StartedAt: time.Now().UTC()}

	reports, err := s.Service.VerifyLedgers(ctx)
	run.CompletedAt = time.Now().UTC()
	if err != nil {
		run.Err = err
		s.Logger.Error("audit failed", zap.Error(err))
		s.setLast(run)
		return run
	}

	run.Units = len(reports)
	for _, rep := range reports {
		if rep.OK() {
			continue
		}
		run.Broken = append(run.Broken, rep)
		s.Logger.Error("ledger broken",
			zap.String("unit_id", string(rep.UnitID)),
			zap.Int("entries", rep.Entries),
			zap.Error(rep.Err),
		)
	}
	s.Metrics.ObserveLedgerAudit(len(run.Broken), run.CompletedAt)

	if len(run.Broken) > 0 {
		s.Logger.Warn("audit completed with broken ledgers",
			zap.Int("units", run.Units),
			zap.Int("broken", len(run.Broken)),
		)
	} else {
		s.Logger.Debug("audit completed", zap.Int("units", run.Units))
	}
	s.setLast(run)
	return run
}

func (s *LedgerAuditScheduler) setLast(run LedgerAuditRun) {
	s.lastMu.Lock()
	s.last = &run
	s.lastMu.Unlock()
}

// RunNow triggers an immediate audit (for testing/admin).
func (s *LedgerAuditScheduler) RunNow(ctx context.Context) LedgerAuditRun {
	return s.audit(ctx)
}

// LastRun returns the latest audit, or nil before the first one.
func (s *LedgerAuditScheduler) LastRun() *LedgerAuditRun {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return nil
	}
	run := *s.last
	return &run
}

// NextRunTime returns when the next scheduled check will occur.
func (s *LedgerAuditScheduler) NextRunTime() time.Time {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return time.Now().UTC()
	}
	return s.last.StartedAt.Add(s.CheckInterval)
}
