package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joisarv/civic/internal/models"
	"github.com/joisarv/civic/internal/output"
	"github.com/joisarv/civic/internal/store"
)

var departmentStatus string

var departmentCmd = &cobra.Command{
	Use:     "department",
	Aliases: []string{"dept"},
	Short:   "Browse municipal departments and their workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return departmentListRun()
	},
}

var departmentListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List departments",
	RunE: func(cmd *cobra.Command, args []string) error {
		return departmentListRun()
	},
}

var departmentIssuesCmd = &cobra.Command{
	Use:   "issues <department>",
	Short: "List a department's issues",
	Long:  "List the issues assigned to a department, by name or id.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return departmentIssuesRun(args[0])
	},
}

func init() {
	departmentIssuesCmd.Flags().StringVar(&departmentStatus, "status", "", "Filter by status: pending, in_progress, resolved")

	departmentCmd.AddCommand(departmentListCmd)
	departmentCmd.AddCommand(departmentIssuesCmd)
	rootCmd.AddCommand(departmentCmd)
}

func departmentListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	depts, err := s.ListDepartments(ctx)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "Name", "Email"})
	for _, d := range depts {
		_ = table.Append([]string{shortID(d.ID), d.Name, d.Email})
	}
	_ = table.Render()
	return nil
}

func departmentIssuesRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	dept, err := s.GetDepartmentByName(ctx, ref)
	if err != nil {
		dept, err = s.GetDepartment(ctx, ref)
		if err != nil {
			return err
		}
	}

	issues, err := s.ListIssues(ctx, store.IssueFilter{
		Department: dept.Name,
		Status:     models.IssueStatus(departmentStatus),
	})
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues for %s.", dept.Name)
		return nil
	}

	table := ui.Table([]string{"ID", "Code", "Status", "Day", "Address", "Reported"})
	for _, issue := range issues {
		day := ""
		if issue.TotalDays > 0 {
			day = fmt.Sprintf("%d/%d", issue.CurrentDay, issue.TotalDays)
		}
		_ = table.Append([]string{
			shortID(issue.ID),
			issue.TrackingCode,
			output.StatusColor(string(issue.Status)),
			day,
			issue.Address,
			issue.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}
