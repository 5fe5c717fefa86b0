package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joisarv/civic/internal/classify"
	"github.com/joisarv/civic/internal/imagestore"
	"github.com/joisarv/civic/internal/lifecycle"
	"github.com/joisarv/civic/internal/notify"
	"github.com/joisarv/civic/internal/output"
	"github.com/joisarv/civic/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "civic",
	Short: "Civic issue reporting - route reports, track remediation, remind departments",
	Long: `civic routes citizen-submitted civic-issue reports to the correct
municipal department, tracks multi-day remediation work day by day, and
notifies stakeholders by email. Reports are accepted or rejected by an
image classifier with a configurable confidence threshold.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return statusRun()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/civic/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "civic")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CIVIC")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "civic")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "civic.db"))
	viper.SetDefault("upload_dir", filepath.Join(defaultConfigDir, "uploads"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("classifier.threshold", 0.7)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("email.smtp_enabled", false)
	viper.SetDefault("email.smtp_host", "smtp.gmail.com")
	viper.SetDefault("email.smtp_port", "587")
	viper.SetDefault("email.smtp_user", "")
	viper.SetDefault("email.smtp_pass", "")
	viper.SetDefault("email.from", "")
	viper.SetDefault("email.resend_api_key", "")
	viper.SetDefault("reminder.interval", "24h")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// Store is initialized lazily so config/version commands run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getImages returns the image store rooted at the configured upload dir.
func getImages() (*imagestore.Store, error) {
	return imagestore.New(viper.GetString("upload_dir"))
}

// getNotifier builds the email notifier from configuration.
func getNotifier() notify.Notifier {
	return notify.NewEmailNotifier(notify.EmailConfig{
		SMTPEnabled:  viper.GetBool("email.smtp_enabled"),
		SMTPHost:     viper.GetString("email.smtp_host"),
		SMTPPort:     viper.GetString("email.smtp_port"),
		SMTPUser:     viper.GetString("email.smtp_user"),
		SMTPPass:     viper.GetString("email.smtp_pass"),
		From:         viper.GetString("email.from"),
		ResendAPIKey: viper.GetString("email.resend_api_key"),
	})
}

// getEngine wires the lifecycle engine with its collaborators.
func getEngine() (*lifecycle.Engine, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	classifier := classify.NewAnthropicClassifier(
		viper.GetString("anthropic.api_key"),
		viper.GetString("anthropic.model"),
	)
	gate := classify.NewGate(classifier, s, viper.GetFloat64("classifier.threshold"))

	return lifecycle.New(s, gate, getNotifier(), nil), nil
}
