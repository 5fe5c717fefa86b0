package models

import "time"

// IssueStatus represents the lifecycle state of a reported issue.
type IssueStatus string

const (
	IssueStatusRejected   IssueStatus = "rejected"
	IssueStatusPending    IssueStatus = "pending"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusResolved   IssueStatus = "resolved"
)

// Terminal reports whether no further transitions are allowed from this status.
func (s IssueStatus) Terminal() bool {
	return s == IssueStatusRejected || s == IssueStatusResolved
}

// DepartmentInvalid is the sentinel department assigned to rejected reports.
const DepartmentInvalid = "Invalid"

// DayUpdate is one entry in an issue's day-by-day remediation log.
type DayUpdate struct {
	Day         int       `json:"day"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

// Issue represents a citizen-reported civic issue.
type Issue struct {
	ID            string      `json:"id"`
	TrackingCode  string      `json:"tracking_code"`
	ReporterEmail string      `json:"reporter_email"`
	Address       string      `json:"address"`
	ImageRef      string      `json:"image_ref"`
	Department    string      `json:"department"` // department name, or DepartmentInvalid when rejected
	Status        IssueStatus `json:"status"`
	TotalDays     int         `json:"total_days"`  // 0 until a duration is committed
	CurrentDay    int         `json:"current_day"` // 0 before the first day update
	DayLog        []DayUpdate `json:"day_log"`     // ordered, exactly days 1..CurrentDay
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// PendingResolution reports whether the final committed day has been logged
// and the issue is waiting on an explicit resolve or extend decision.
func (i *Issue) PendingResolution() bool {
	return i.Status == IssueStatusInProgress && i.TotalDays > 0 && i.CurrentDay == i.TotalDays
}
