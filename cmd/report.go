package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joisarv/civic/internal/imagestore"
	"github.com/joisarv/civic/internal/lifecycle"
	"github.com/joisarv/civic/internal/output"
)

var (
	reportImage   string
	reportContact string
	reportAddress string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Submit and track citizen reports",
	Long:  "Submit a new civic-issue report or track an existing one by its tracking code.",
}

var reportSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new report",
	Long: `Submit a civic-issue report with a photo, contact email, and address.

The photo is classified to pick the responsible department. Reports that do
not show a recognizable civic issue are rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportSubmitRun()
	},
}

var reportTrackCmd = &cobra.Command{
	Use:   "track <tracking-code>",
	Short: "Track a report by its tracking code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportTrackRun(args[0])
	},
}

func init() {
	reportSubmitCmd.Flags().StringVar(&reportImage, "image", "", "Path to the issue photo (required)")
	reportSubmitCmd.Flags().StringVar(&reportContact, "contact", "", "Reporter email address (required)")
	reportSubmitCmd.Flags().StringVar(&reportAddress, "address", "", "Street address of the issue (required)")
	_ = reportSubmitCmd.MarkFlagRequired("image")
	_ = reportSubmitCmd.MarkFlagRequired("contact")
	_ = reportSubmitCmd.MarkFlagRequired("address")

	reportCmd.AddCommand(reportSubmitCmd)
	reportCmd.AddCommand(reportTrackCmd)
	rootCmd.AddCommand(reportCmd)
}

func reportSubmitRun() error {
	engine, err := getEngine()
	if err != nil {
		return err
	}
	images, err := getImages()
	if err != nil {
		return err
	}
	ctx := context.Background()

	image, err := os.ReadFile(reportImage)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	ref, err := images.Save(reportImage, bytes.NewReader(image))
	if err != nil {
		return err
	}

	ui.VerboseLog("Classifying image %s", reportImage)
	result, err := engine.Intake(ctx, lifecycle.IntakeRequest{
		Image:         image,
		MediaType:     imagestore.MediaType(ref),
		ImageRef:      ref,
		ReporterEmail: reportContact,
		Address:       reportAddress,
	})
	if err != nil {
		return err
	}

	if !result.Accepted {
		ui.Warning("Not a valid image for civic issue reporting (confidence %s)",
			output.ConfidenceColor(result.Confidence))
		ui.Info("Tracking code: %s", output.Cyan(result.TrackingCode))
		return nil
	}

	ui.Success("Report accepted and assigned to %s (confidence %s)",
		output.Cyan(result.Department), output.ConfidenceColor(result.Confidence))
	ui.Info("Tracking code: %s", output.Cyan(result.TrackingCode))
	return nil
}

func reportTrackRun(code string) error {
	engine, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := engine.TrackByCode(ctx, code)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Tracking code: %s\n", output.Cyan(issue.TrackingCode))
	fmt.Fprintf(ui.Out, "Status:        %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "Department:    %s\n", issue.Department)
	fmt.Fprintf(ui.Out, "Address:       %s\n", issue.Address)
	if issue.TotalDays > 0 {
		fmt.Fprintf(ui.Out, "Progress:      day %d of %d\n", issue.CurrentDay, issue.TotalDays)
	}
	fmt.Fprintf(ui.Out, "Reported:      %s\n", issue.CreatedAt.Format("2006-01-02 15:04"))

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
