package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joisarv/civic/internal/stats"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the department workload dashboard",
	Long:  "Show every department's pending, in-progress, and resolved issue counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	overview, err := stats.Overview(ctx, s)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Department", "Pending", "In Progress", "Resolved", "Total"})
	for _, ds := range overview {
		_ = table.Append([]string{
			ds.Department.Name,
			fmt.Sprintf("%d", ds.Pending),
			fmt.Sprintf("%d", ds.InProgress),
			fmt.Sprintf("%d", ds.Resolved),
			fmt.Sprintf("%d", ds.Total),
		})
	}
	_ = table.Render()
	return nil
}
