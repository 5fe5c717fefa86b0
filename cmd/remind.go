package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joisarv/civic/internal/reminder"
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Run one reminder scan now",
	Long: `Scan all in-progress issues once and email each department whose issue
is overdue for a day update. The same scan runs on a schedule inside
'civic serve'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return remindRun()
	},
}

func init() {
	rootCmd.AddCommand(remindCmd)
}

func remindRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sched := reminder.New(s, getNotifier(), 0, logger)

	sent := sched.RunCycle(context.Background(), time.Now().UTC())
	if sent == 0 {
		ui.Info("No reminders due.")
		return nil
	}
	ui.Success("Sent %d reminder(s)", sent)
	return nil
}
