package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joisarv/civic/internal/lifecycle"
	"github.com/joisarv/civic/internal/models"
	"github.com/joisarv/civic/internal/output"
	"github.com/joisarv/civic/internal/store"
)

var (
	issueDept       string
	issueStatus     string
	issueDays       int
	issueDay        int
	issueDesc       string
	issueExtendDays int
	issueResetForce bool
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage reported issues",
	Long:  "List, inspect, and move reported issues through their remediation lifecycle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueCommitCmd = &cobra.Command{
	Use:   "commit <issue-id>",
	Short: "Commit a remediation duration and start work",
	Long: `Commit how many days the remediation will take and move the issue from
pending to in progress. The duration is committed exactly once; extend the
deadline later with 'civic issue resolve --extend'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCommitRun(args[0])
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue-id>",
	Short: "Post the next day's progress update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(args[0])
	},
}

var issueResolveCmd = &cobra.Command{
	Use:   "resolve <issue-id>",
	Short: "Resolve an issue, or extend its deadline",
	Long: `Mark an in-progress issue resolved once every committed day is logged.

With --extend N, the deadline grows by N days instead and the reporter is
notified of the delay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueResolveRun(args[0])
	},
}

var issueResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all issues and their day logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueResetRun()
	},
}

func init() {
	issueListCmd.Flags().StringVar(&issueDept, "department", "", "Filter by department name")
	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: pending, in_progress, resolved, rejected")

	issueCommitCmd.Flags().IntVar(&issueDays, "days", 0, "Committed remediation duration in days (required)")
	_ = issueCommitCmd.MarkFlagRequired("days")

	issueUpdateCmd.Flags().IntVar(&issueDay, "day", 0, "Day number being logged (required)")
	issueUpdateCmd.Flags().StringVar(&issueDesc, "desc", "", "Progress description (required)")
	_ = issueUpdateCmd.MarkFlagRequired("day")
	_ = issueUpdateCmd.MarkFlagRequired("desc")

	issueResolveCmd.Flags().IntVar(&issueExtendDays, "extend", 0, "Extend the deadline by this many days instead of resolving")

	issueResetCmd.Flags().BoolVar(&issueResetForce, "force", false, "Skip confirmation")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueCommitCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueResolveCmd)
	issueCmd.AddCommand(issueResetCmd)
	rootCmd.AddCommand(issueCmd)
}

// shortID returns the first 8 characters of a ULID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func issueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issues, err := s.ListIssues(ctx, store.IssueFilter{
		Department: issueDept,
		Status:     models.IssueStatus(issueStatus),
	})
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Code", "Department", "Status", "Day", "Address", "Reported"})
	for _, issue := range issues {
		day := ""
		if issue.TotalDays > 0 {
			day = fmt.Sprintf("%d/%d", issue.CurrentDay, issue.TotalDays)
		}
		_ = table.Append([]string{
			shortID(issue.ID),
			issue.TrackingCode,
			issue.Department,
			output.StatusColor(string(issue.Status)),
			day,
			issue.Address,
			issue.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

// findIssue resolves an ID prefix or tracking code to a single issue.
func findIssue(ctx context.Context, s store.Store, ref string) (*models.Issue, error) {
	if issue, err := s.GetIssue(ctx, ref); err == nil {
		return issue, nil
	}
	if issue, err := s.GetIssueByTrackingCode(ctx, ref); err == nil {
		return issue, nil
	}

	// Fall back to an ID prefix match
	issues, err := s.ListIssues(ctx, store.IssueFilter{})
	if err != nil {
		return nil, err
	}
	var match *models.Issue
	for _, issue := range issues {
		if strings.HasPrefix(issue.ID, strings.ToUpper(ref)) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous issue reference %q", ref)
			}
			match = issue
		}
	}
	if match == nil {
		return nil, &models.NotFoundError{Kind: "issue", Ref: ref}
	}
	return match, nil
}

func issueShowRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, ref)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(shortID(issue.ID)), output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  Tracking code: %s\n", issue.TrackingCode)
	fmt.Fprintf(ui.Out, "  Department:    %s\n", issue.Department)
	fmt.Fprintf(ui.Out, "  Reporter:      %s\n", issue.ReporterEmail)
	fmt.Fprintf(ui.Out, "  Address:       %s\n", issue.Address)
	if issue.ImageRef != "" {
		fmt.Fprintf(ui.Out, "  Image:         %s\n", issue.ImageRef)
	}
	if issue.TotalDays > 0 {
		fmt.Fprintf(ui.Out, "  Progress:      day %d of %d\n", issue.CurrentDay, issue.TotalDays)
	}
	fmt.Fprintf(ui.Out, "  Reported:      %s\n", issue.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(ui.Out, "  Updated:       %s\n", issue.UpdatedAt.Format("2006-01-02 15:04"))

	if len(issue.DayLog) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Day", "Date", "Update"})
		for _, u := range issue.DayLog {
			_ = table.Append([]string{
				fmt.Sprintf("%d", u.Day),
				u.Date.Format("2006-01-02"),
				u.Description,
			})
		}
		_ = table.Render()
	}
	return nil
}

func issueCommitRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	engine, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, ref)
	if err != nil {
		return err
	}

	updated, err := engine.CommitDuration(ctx, issue.ID, issueDays)
	if err != nil {
		return err
	}

	ui.Success("Issue %s is in progress: %d day(s) committed", output.Cyan(shortID(updated.ID)), updated.TotalDays)
	return nil
}

func issueUpdateRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	engine, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, ref)
	if err != nil {
		return err
	}

	updated, err := engine.PostDayUpdate(ctx, issue.ID, issueDay, issueDesc)
	if err != nil {
		return err
	}

	ui.Success("Logged day %d of %d for issue %s", issueDay, updated.TotalDays, output.Cyan(shortID(updated.ID)))
	if updated.PendingResolution() {
		ui.Info("All committed days are logged. Resolve with 'civic issue resolve %s'", shortID(updated.ID))
	}
	return nil
}

func issueResolveRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	engine, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, ref)
	if err != nil {
		return err
	}

	if issueExtendDays > 0 {
		updated, err := engine.Resolve(ctx, issue.ID, lifecycle.DecisionExtend, issueExtendDays)
		if err != nil {
			return err
		}
		ui.Success("Extended issue %s by %d day(s), new deadline is day %d",
			output.Cyan(shortID(updated.ID)), issueExtendDays, updated.TotalDays)
		return nil
	}

	updated, err := engine.Resolve(ctx, issue.ID, lifecycle.DecisionResolved, 0)
	if err != nil {
		return err
	}
	ui.Success("Issue %s resolved after %d day(s)", output.Cyan(shortID(updated.ID)), updated.TotalDays)
	return nil
}

func issueResetRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if !issueResetForce {
		return fmt.Errorf("this deletes every issue and its day log; re-run with --force to confirm")
	}

	n, err := s.ResetIssues(ctx)
	if err != nil {
		return err
	}
	ui.Success("Deleted %d issue(s)", n)
	return nil
}
