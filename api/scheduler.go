/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Runs the ledger audit in the background and keeps the latest report so
  operators can see drift without replaying the log on every request.

DESIGN:
  - One goroutine driven by a ticker
  - Runs immediately on Start, then every Interval
  - Violations are logged at Error, clean runs at Info
  - The last report is served by GET /api/audit?cached=1

CONFIGURATION:
  - Interval: AUDIT_INTERVAL; zero disables the scheduler

USAGE:
  scheduler := NewAuditScheduler(l, 10*time.Minute, logger)
  scheduler.Start()
  defer scheduler.Stop()

SEE ALSO:
  - ledger/audit.go: The checks themselves
  - handlers.go: Audit endpoint
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/ledger-core/ledger"
)

// Auditor is satisfied by *ledger.Ledger.
type Auditor interface {
	Audit(ctx context.Context) (ledger.AuditReport, error)
}

// AuditScheduler handles periodic ledger audits.
type AuditScheduler struct {
	Auditor  Auditor
	Interval time.Duration
	Logger   *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex // guards ticker and stop

	reportMu sync.RWMutex
	last     *ledger.AuditReport
}

func NewAuditScheduler(auditor Auditor, interval time.Duration, logger *zap.Logger) *AuditScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{
		Auditor:  auditor,
		Interval: interval,
		Logger:   logger,
	}
}

// Start begins the scheduler. It is a no-op when Interval is not positive
// or the scheduler is already running.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Logger.Info("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("audit scheduler started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running audit to finish.
// Calling Stop more than once is safe.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("audit scheduler stopped")
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.check(ctx)

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-stop:
			return
		}
	}
}

func (s *AuditScheduler) check(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
		s.Logger.Warn("audit failed", zap.Error(err))
	}
}

// RunNow audits immediately and records the report.
func (s *AuditScheduler) RunNow(ctx context.Context) (ledger.AuditReport, error) {
	report, err := s.Auditor.Audit(ctx)
	if err != nil {
		return ledger.AuditReport{}, err
	}

	s.reportMu.Lock()
	s.last = &report
	s.reportMu.Unlock()

	if report.OK() {
		s.Logger.Info("audit passed",
			zap.Int("accounts", report.Accounts),
			zap.Int("transactions", report.Transactions),
		)
		return report, nil
	}
	for _, v := range report.Violations {
		s.Logger.Error("audit violation",
			zap.String("code", string(v.Code)),
			zap.Int64("customer_id", int64(v.CustomerID)),
			zap.Int64("account_id", int64(v.AccountID)),
			zap.String("message", v.Message),
		)
	}
	return report, nil
}

// LastReport returns the most recent report, if any audit has completed.
func (s *AuditScheduler) LastReport() (ledger.AuditReport, bool) {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()

	if s.last == nil {
		return ledger.AuditReport{}, false
	}
	return *s.last, true
}
