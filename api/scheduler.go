/*
scheduler.go - Background report scheduler

PURPOSE:
  Periodically runs the two reporting jobs:
    - rental expiry notices: once per observed day
    - monthly sales report: once per observed month, covering the month
      that just ended

DESIGN:
  - One background goroutine on a ticker (default: 1 hour)
  - Day/month rollover is detected by comparing against the last run,
    so a restart never double-sends within the same tick window
  - Jobs are independent; a failing job logs and retries next rollover

USAGE:
  scheduler := NewReportScheduler(reporter, lead, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - report/report.go: the jobs themselves
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studyon/billing-engine/api/metrics"
	"github.com/studyon/billing-engine/report"
)

// ReportScheduler drives the periodic reporting jobs.
type ReportScheduler struct {
	Reporter      *report.Reporter
	CheckInterval time.Duration
	ExpiryLead    time.Duration
	Enabled       bool
	Log           zerolog.Logger

	// Now is the clock; overridable in tests.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastExpiryDay  string // "2006-01-02" of the last expiry-notice run
	lastSalesMonth string // "2006-01" of the last monthly report run
}

// NewReportScheduler creates a scheduler with hourly checks.
func NewReportScheduler(reporter *report.Reporter, expiryLead time.Duration, log zerolog.Logger) *ReportScheduler {
	return &ReportScheduler{
		Reporter:      reporter,
		CheckInterval: 1 * time.Hour,
		ExpiryLead:    expiryLead,
		Enabled:       true,
		Log:           log,
		Now:           func() time.Time { return time.Now().UTC() },
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *ReportScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info().Msg("report scheduler disabled, not starting")
		return
	}

	// Prime the rollover markers so jobs fire on the NEXT day/month change,
	// not immediately on every restart.
	now := rs.Now()
	rs.lastExpiryDay = now.Format("2006-01-02")
	rs.lastSalesMonth = now.Format("2006-01")

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run()

	rs.Log.Info().Dur("interval", rs.CheckInterval).Msg("report scheduler started")
}

// Stop stops the scheduler and waits for a running job to finish.
func (rs *ReportScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Log.Info().Msg("report scheduler stopped")
	}
}

func (rs *ReportScheduler) run() {
	defer rs.wg.Done()

	for {
		select {
		case <-rs.ticker.C:
			rs.tick()
		case <-rs.stop:
			return
		}
	}
}

// tick runs any job whose day/month boundary has been crossed since the
// last run. Exported indirectly through RunNow for tests and admin use.
func (rs *ReportScheduler) tick() {
	ctx := context.Background()
	now := rs.Now()

	day := now.Format("2006-01-02")
	if day != rs.lastExpiryDay {
		if err := rs.Reporter.SendExpiryNotices(ctx, now, rs.ExpiryLead); err != nil {
			metrics.ReportRuns.WithLabelValues("expiry_notices", "error").Inc()
			rs.Log.Error().Err(err).Msg("expiry notice run failed")
		} else {
			metrics.ReportRuns.WithLabelValues("expiry_notices", "ok").Inc()
			rs.lastExpiryDay = day
		}
	}

	month := now.Format("2006-01")
	if month != rs.lastSalesMonth {
		// Report the month that just ended. AddDate(0,-1,0) normalizes
		// (Mar 31 -> Mar 3), so step back from the first of the month.
		prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
		if err := rs.Reporter.SendMonthlySales(ctx, prev); err != nil {
			metrics.ReportRuns.WithLabelValues("monthly_sales", "error").Inc()
			rs.Log.Error().Err(err).Msg("monthly sales run failed")
		} else {
			metrics.ReportRuns.WithLabelValues("monthly_sales", "ok").Inc()
			rs.lastSalesMonth = month
		}
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *ReportScheduler) RunNow() {
	rs.tick()
}
