package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joisarv/civic/internal/api"
	"github.com/joisarv/civic/internal/reminder"
)

var serveNoReminders bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and reminder scheduler",
	Long: `Start the civic HTTP API server.

Listens on port 8080 by default; use --port to change it. The reminder
scheduler runs in the background and nudges departments whose in-progress
issues are overdue for a day update. Use --no-reminders to disable it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().BoolVar(&serveNoReminders, "no-reminders", false, "Disable the background reminder scheduler")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func serveRun() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s, err := getStore()
	if err != nil {
		return err
	}
	engine, err := getEngine()
	if err != nil {
		return err
	}
	images, err := getImages()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(s, engine, images, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !serveNoReminders {
		interval := viper.GetDuration("reminder.interval")
		sched := reminder.New(s, getNotifier(), interval, logger)
		go func() {
			if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reminder scheduler exited", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
