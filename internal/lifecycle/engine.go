package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/joisarv/civic/internal/classify"
	"github.com/joisarv/civic/internal/models"
	"github.com/joisarv/civic/internal/notify"
	"github.com/joisarv/civic/internal/store"
)

// Gate is the classification decision layer consumed by the engine.
type Gate interface {
	Evaluate(ctx context.Context, image []byte, mediaType string) (*classify.Decision, error)
}

// Decision is the outcome a department chooses when resolving an issue.
type Decision string

const (
	DecisionResolved Decision = "resolved"
	DecisionExtend   Decision = "extend"
)

// IntakeRequest carries a citizen report into the engine.
type IntakeRequest struct {
	Image         []byte
	MediaType     string
	ImageRef      string // opaque handle from the image store
	ReporterEmail string
	Address       string
}

// IntakeResult is the outcome of submitting a report.
type IntakeResult struct {
	Accepted     bool
	TrackingCode string
	Department   string
	Confidence   float64
	Issue        *models.Issue
}

// Engine is the single authority over issue status and day-field mutation.
// All transitions run under a per-issue lock; classification and
// notifications happen outside it, so a slow classifier or mail server never
// stalls another actor's access to the same record.
type Engine struct {
	store    store.Store
	gate     Gate
	notifier notify.Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a lifecycle engine with its collaborators injected.
func New(s store.Store, gate Gate, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    s,
		gate:     gate,
		notifier: notifier,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockIssue acquires the per-issue mutex, returning its unlock func.
func (e *Engine) lockIssue(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// notifyBestEffort sends a notification after a committed transition.
// Failures are logged, never returned: the state change is the source of
// truth and notifications are informational.
func (e *Engine) notifyBestEffort(ctx context.Context, msg notify.Message, issueID, kind string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn("notification failed",
			"kind", kind, "issue", issueID, "to", msg.To, "error", err)
	}
}

// Intake runs the classification gate on a report and creates the issue:
// rejected reports are recorded with the Invalid department sentinel,
// accepted reports enter Pending and the assigned department is notified.
func (e *Engine) Intake(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	if len(req.Image) == 0 {
		return nil, models.Validationf("image is required")
	}
	if !strings.Contains(req.ReporterEmail, "@") {
		return nil, models.Validationf("reporter contact must be an email address")
	}
	if strings.TrimSpace(req.Address) == "" {
		return nil, models.Validationf("address is required")
	}

	// Classification may be expensive; it runs before any issue exists and
	// therefore outside every lock.
	decision, err := e.gate.Evaluate(ctx, req.Image, req.MediaType)
	if err != nil {
		return nil, err
	}

	issue := &models.Issue{
		ReporterEmail: req.ReporterEmail,
		Address:       req.Address,
		ImageRef:      req.ImageRef,
	}

	if !decision.Accepted() {
		issue.Department = models.DepartmentInvalid
		issue.Status = models.IssueStatusRejected
		if err := e.store.CreateIssue(ctx, issue); err != nil {
			return nil, err
		}
		e.logger.Info("report rejected",
			"issue", issue.ID, "label", decision.Label, "confidence", decision.Confidence)
		return &IntakeResult{
			Accepted:     false,
			TrackingCode: issue.TrackingCode,
			Confidence:   decision.Confidence,
			Issue:        issue,
		}, nil
	}

	dept := decision.Department
	issue.Department = dept.Name
	issue.Status = models.IssueStatusPending
	if err := e.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}
	e.logger.Info("report accepted",
		"issue", issue.ID, "tracking_code", issue.TrackingCode,
		"department", dept.Name, "confidence", decision.Confidence)

	e.notifyBestEffort(ctx,
		notify.DepartmentReport(issue, dept, req.Image, req.MediaType),
		issue.ID, "department report")

	return &IntakeResult{
		Accepted:     true,
		TrackingCode: issue.TrackingCode,
		Department:   dept.Name,
		Confidence:   decision.Confidence,
		Issue:        issue,
	}, nil
}

// CommitDuration moves a pending issue into progress with a committed
// day count. The duration is set exactly once per in-progress episode.
func (e *Engine) CommitDuration(ctx context.Context, issueID string, days int) (*models.Issue, error) {
	if days < 1 {
		return nil, models.Validationf("duration must be at least 1 day, got %d", days)
	}

	unlock := e.lockIssue(issueID)
	defer unlock()

	issue, err := e.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.IssueStatusPending {
		detail := ""
		if issue.Status == models.IssueStatusInProgress {
			detail = "duration is committed exactly once per episode"
		}
		return nil, &models.IllegalTransitionError{Op: "commit duration", Status: issue.Status, Detail: detail}
	}

	if err := e.store.StartProgress(ctx, issueID, days); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, &models.IllegalTransitionError{Op: "commit duration", Status: issue.Status}
		}
		return nil, err
	}
	return e.store.GetIssue(ctx, issueID)
}

// PostDayUpdate appends the next day's progress entry. The day number must
// be exactly currentDay+1; anything else is a sequence violation naming the
// expected day.
func (e *Engine) PostDayUpdate(ctx context.Context, issueID string, day int, description string) (*models.Issue, error) {
	if strings.TrimSpace(description) == "" {
		return nil, models.Validationf("day update description is required")
	}
	if day < 1 {
		return nil, models.Validationf("day number must be at least 1, got %d", day)
	}

	unlock := e.lockIssue(issueID)
	defer unlock()

	issue, err := e.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.IssueStatusInProgress {
		return nil, &models.IllegalTransitionError{Op: "post day update", Status: issue.Status}
	}
	if day != issue.CurrentDay+1 || day > issue.TotalDays {
		return nil, &models.SequenceViolationError{Got: day, Expected: issue.CurrentDay + 1}
	}

	if _, err := e.store.AppendDayUpdate(ctx, issueID, day, description); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, &models.SequenceViolationError{Got: day, Expected: issue.CurrentDay + 1}
		}
		return nil, err
	}
	return e.store.GetIssue(ctx, issueID)
}

// Resolve closes out or extends an in-progress issue. Resolving requires the
// final committed day to be logged; extending is allowed at any in-progress
// point and notifies the reporter of the delay.
func (e *Engine) Resolve(ctx context.Context, issueID string, decision Decision, extraDays int) (*models.Issue, error) {
	switch decision {
	case DecisionResolved:
		return e.resolve(ctx, issueID)
	case DecisionExtend:
		return e.extend(ctx, issueID, extraDays)
	default:
		return nil, models.Validationf("unknown resolve decision %q", decision)
	}
}

func (e *Engine) resolve(ctx context.Context, issueID string) (*models.Issue, error) {
	unlock := e.lockIssue(issueID)
	defer unlock()

	issue, err := e.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.IssueStatusInProgress {
		return nil, &models.IllegalTransitionError{Op: "resolve", Status: issue.Status}
	}
	if !issue.PendingResolution() {
		return nil, &models.IllegalTransitionError{
			Op:     "resolve",
			Status: issue.Status,
			Detail: fmt.Sprintf("day %d of %d not yet logged", issue.CurrentDay+1, issue.TotalDays),
		}
	}

	if err := e.store.MarkResolved(ctx, issueID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, &models.IllegalTransitionError{Op: "resolve", Status: issue.Status}
		}
		return nil, err
	}
	e.logger.Info("issue resolved", "issue", issueID, "tracking_code", issue.TrackingCode)
	return e.store.GetIssue(ctx, issueID)
}

func (e *Engine) extend(ctx context.Context, issueID string, extraDays int) (*models.Issue, error) {
	if extraDays < 1 {
		return nil, models.Validationf("extension must be at least 1 day, got %d", extraDays)
	}

	unlock := e.lockIssue(issueID)

	issue, err := e.store.GetIssue(ctx, issueID)
	if err != nil {
		unlock()
		return nil, err
	}
	if issue.Status != models.IssueStatusInProgress {
		unlock()
		return nil, &models.IllegalTransitionError{Op: "extend", Status: issue.Status}
	}

	if err := e.store.ExtendDeadline(ctx, issueID, extraDays); err != nil {
		unlock()
		if errors.Is(err, store.ErrConflict) {
			return nil, &models.IllegalTransitionError{Op: "extend", Status: issue.Status}
		}
		return nil, err
	}
	updated, err := e.store.GetIssue(ctx, issueID)
	unlock()
	if err != nil {
		return nil, err
	}
	e.logger.Info("deadline extended",
		"issue", issueID, "extra_days", extraDays, "total_days", updated.TotalDays)

	// Apology goes out after the extension has committed and the lock is
	// released.
	e.notifyBestEffort(ctx, notify.ExtensionApology(updated, extraDays), issueID, "extension apology")

	return updated, nil
}

// TrackByCode returns the full issue detail for a citizen-facing tracking code.
func (e *Engine) TrackByCode(ctx context.Context, code string) (*models.Issue, error) {
	return e.store.GetIssueByTrackingCode(ctx, code)
}

// ListDepartmentIssues lists a department's issues, optionally filtered by status.
func (e *Engine) ListDepartmentIssues(ctx context.Context, departmentID string, status models.IssueStatus) ([]*models.Issue, error) {
	dept, err := e.store.GetDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	return e.store.ListIssues(ctx, store.IssueFilter{Department: dept.Name, Status: status})
}
