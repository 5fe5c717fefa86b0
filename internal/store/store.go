package store

import (
	"context"
	"errors"

	"github.com/joisarv/civic/internal/models"
)

// ErrConflict is returned when a guarded update loses a race: the issue exists
// but is no longer in the state the update requires.
var ErrConflict = errors.New("store: conflicting concurrent update")

// IssueFilter specifies filters for listing issues.
type IssueFilter struct {
	Department string // department name
	Status     models.IssueStatus
}

// Store defines the persistence interface for civic.
//
// All timestamps are set by the store at write time; callers never supply
// them. Guarded mutations (StartProgress, AppendDayUpdate, ExtendDeadline,
// MarkResolved) verify the issue's current state inside the write and return
// ErrConflict when the guard fails, so a race between two actors can never
// corrupt day sequencing.
type Store interface {
	// Departments (seeded once, read-only afterwards)
	ListDepartments(ctx context.Context) ([]*models.Department, error)
	GetDepartment(ctx context.Context, id string) (*models.Department, error)
	GetDepartmentByName(ctx context.Context, name string) (*models.Department, error)

	// Issues
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	GetIssueByTrackingCode(ctx context.Context, code string) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]*models.Issue, error)

	// StartProgress moves a pending issue to in_progress with the committed
	// duration and an empty day log.
	StartProgress(ctx context.Context, id string, totalDays int) error
	// AppendDayUpdate records the next day's entry and advances current_day.
	// The day must be exactly current_day+1 on an in_progress issue.
	AppendDayUpdate(ctx context.Context, id string, day int, description string) (*models.DayUpdate, error)
	// ExtendDeadline adds extraDays to total_days on an in_progress issue.
	ExtendDeadline(ctx context.Context, id string, extraDays int) error
	// MarkResolved closes an in_progress issue whose final day has been logged.
	MarkResolved(ctx context.Context, id string) error

	CountIssuesByStatus(ctx context.Context, department string) (map[models.IssueStatus]int, error)
	// ResetIssues wipes all issues and day updates. Administrative use only.
	ResetIssues(ctx context.Context) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
