package stats

import (
	"context"

	"github.com/joisarv/civic/internal/models"
	"github.com/joisarv/civic/internal/store"
)

// DepartmentStatus summarizes one department's issue workload.
type DepartmentStatus struct {
	Department *models.Department `json:"department"`
	Pending    int                `json:"pending"`
	InProgress int                `json:"in_progress"`
	Resolved   int                `json:"resolved"`
	Total      int                `json:"total"`
}

// Overview computes the workload summary for every department.
func Overview(ctx context.Context, s store.Store) ([]*DepartmentStatus, error) {
	depts, err := s.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}

	var out []*DepartmentStatus
	for _, d := range depts {
		counts, err := s.CountIssuesByStatus(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		ds := &DepartmentStatus{
			Department: d,
			Pending:    counts[models.IssueStatusPending],
			InProgress: counts[models.IssueStatusInProgress],
			Resolved:   counts[models.IssueStatusResolved],
		}
		ds.Total = ds.Pending + ds.InProgress + ds.Resolved
		out = append(out, ds)
	}
	return out, nil
}
