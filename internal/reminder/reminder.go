package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joisarv/civic/internal/models"
	"github.com/joisarv/civic/internal/notify"
	"github.com/joisarv/civic/internal/store"
)

// Scheduler is the recurring background task that nudges departments whose
// in-progress issues are overdue for a day update. It only ever reads issue
// state; all mutation stays with the lifecycle engine.
type Scheduler struct {
	store    store.Store
	notifier notify.Notifier
	interval time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates a reminder scheduler that scans every interval.
func New(s store.Store, n notify.Notifier, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		notifier: n,
		interval: interval,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start begins the recurring scan. Blocks until the context is cancelled;
// cancellation is checked at cycle boundaries, never mid-cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		sent := s.RunCycle(ctx, time.Now().UTC())
		s.logger.Info("reminder cycle finished", "sent", sent)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("reminder scheduler started", "interval", s.interval)

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("reminder scheduler stopped")
	return ctx.Err()
}

// RunCycle scans all in-progress issues once and sends a reminder for each
// one whose expected update is overdue relative to now. It returns the number
// of reminders sent. One issue's failure never aborts the rest of the scan.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) int {
	issues, err := s.store.ListIssues(ctx, store.IssueFilter{Status: models.IssueStatusInProgress})
	if err != nil {
		s.logger.Error("reminder scan failed", "error", err)
		return 0
	}

	sent := 0
	for _, issue := range issues {
		if !s.overdue(issue, now) {
			continue
		}

		dept, err := s.store.GetDepartmentByName(ctx, issue.Department)
		if err != nil {
			s.logger.Error("reminder skipped: department lookup failed",
				"issue", issue.ID, "department", issue.Department, "error", err)
			continue
		}

		nextDay := issue.CurrentDay + 1
		if err := s.notifier.Send(ctx, notify.Reminder(issue, dept, nextDay)); err != nil {
			s.logger.Warn("reminder send failed",
				"issue", issue.ID, "department", dept.Name, "error", err)
			continue
		}

		s.logger.Info("reminder sent",
			"issue", issue.ID, "tracking_code", issue.TrackingCode,
			"department", dept.Name, "next_day", nextDay)
		sent++
	}
	return sent
}

// overdue reports whether an in-progress issue owes a day update: days still
// remain and at least a full day has passed since the last update. An issue
// whose final day is logged is waiting on a resolve decision, not an update.
func (s *Scheduler) overdue(issue *models.Issue, now time.Time) bool {
	if issue.CurrentDay >= issue.TotalDays {
		return false
	}
	return now.Sub(issue.UpdatedAt) >= 24*time.Hour
}
