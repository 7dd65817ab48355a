/*
scheduler.go - Cron-driven overdue penalty scan

PURPOSE:
  Runs the penalty scan on a cron schedule so overdue installments are
  penalized without manual intervention. The scan itself lives on Handler
  (RunScan) and is also reachable via POST /api/repayments/penalties/scan;
  this file only owns the clock.

IDEMPOTENCE:
  The scan can fire as often as the schedule says: live penalties for a
  (line, type) pair suppress re-emission, so a second run on the same day
  changes nothing.

CONFIGURATION:
  The cron expression comes from config (PENALTY_SCAN_SCHEDULE, default
  "0 1 * * *" - 01:00 daily).

USAGE:
  scheduler, err := NewScanScheduler(handler, "0 1 * * *", log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunScan implementation
  - engine/penalty.go: Scan semantics
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ScanScheduler fires the overdue penalty scan on a cron expression.
type ScanScheduler struct {
	handler *Handler
	cron    *cron.Cron
	log     *logrus.Logger
	entry   cron.EntryID
}

// NewScanScheduler registers the scan job. An invalid cron expression is an
// error; the caller decides whether to run without a scheduler.
func NewScanScheduler(handler *Handler, schedule string, log *logrus.Logger) (*ScanScheduler, error) {
	s := &ScanScheduler{
		handler: handler,
		cron:    cron.New(),
		log:     log,
	}

	entry, err := s.cron.AddFunc(schedule, s.runOnce)
	if err != nil {
		return nil, err
	}
	s.entry = entry
	return s, nil
}

// Start begins firing on schedule.
func (s *ScanScheduler) Start() {
	s.cron.Start()
	s.log.WithField("next_run", s.cron.Entry(s.entry).Next).Info("penalty scan scheduler started")
}

// Stop halts the scheduler and waits for a running scan to finish.
func (s *ScanScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("penalty scan scheduler stopped")
}

func (s *ScanScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.handler.RunScan(ctx, time.Now().UTC()); err != nil {
		s.log.WithError(err).Error("scheduled penalty scan failed")
	}
}
