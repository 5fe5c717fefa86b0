package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "civic"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage civic configuration.

Running bare 'civic config' is the same as 'civic config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# civic configuration
# See: civic config show (for effective values and sources)

# State/data directory (default: ~/.config/civic)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/civic/civic.db)
# db_path: {{ .DBPath }}

# Directory for uploaded report images (default: ~/.config/civic/uploads)
# upload_dir: {{ .UploadDir }}

# HTTP API port for 'civic serve' (default: 8080)
# port: {{ .Port }}

# Classifier settings
classifier:
  # Minimum confidence required to accept a report (default: 0.7)
  threshold: {{ .ClassifierThreshold }}

# Anthropic API (image classification)
anthropic:
  # API key (or set CIVIC_ANTHROPIC_API_KEY)
  api_key: "{{ .AnthropicAPIKey }}"

  # Model to use for classification
  model: "{{ .AnthropicModel }}"

# Email delivery
email:
  # Deliver via SMTP when true, otherwise via the Resend API
  smtp_enabled: {{ .SMTPEnabled }}
  smtp_host: "{{ .SMTPHost }}"
  smtp_port: "{{ .SMTPPort }}"
  smtp_user: "{{ .SMTPUser }}"
  # smtp_pass: ""
  from: "{{ .EmailFrom }}"
  # resend_api_key: ""

# Reminder scheduler
reminder:
  # How often to scan in-progress issues for overdue updates (default: 24h)
  interval: "{{ .ReminderInterval }}"
`

type configTemplateData struct {
	StateDir            string
	DBPath              string
	UploadDir           string
	Port                int
	ClassifierThreshold float64
	AnthropicAPIKey     string
	AnthropicModel      string
	SMTPEnabled         bool
	SMTPHost            string
	SMTPPort            string
	SMTPUser            string
	EmailFrom           string
	ReminderInterval    string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:            viper.GetString("state_dir"),
		DBPath:              viper.GetString("db_path"),
		UploadDir:           viper.GetString("upload_dir"),
		Port:                viper.GetInt("port"),
		ClassifierThreshold: viper.GetFloat64("classifier.threshold"),
		AnthropicAPIKey:     viper.GetString("anthropic.api_key"),
		AnthropicModel:      viper.GetString("anthropic.model"),
		SMTPEnabled:         viper.GetBool("email.smtp_enabled"),
		SMTPHost:            viper.GetString("email.smtp_host"),
		SMTPPort:            viper.GetString("email.smtp_port"),
		SMTPUser:            viper.GetString("email.smtp_user"),
		EmailFrom:           viper.GetString("email.from"),
		ReminderInterval:    viper.GetString("reminder.interval"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "CIVIC_STATE_DIR"},
	{Key: "db_path", EnvVar: "CIVIC_DB_PATH"},
	{Key: "upload_dir", EnvVar: "CIVIC_UPLOAD_DIR"},
	{Key: "port", EnvVar: "CIVIC_PORT"},
	{Key: "classifier.threshold", EnvVar: "CIVIC_CLASSIFIER_THRESHOLD"},
	{Key: "anthropic.api_key", EnvVar: "CIVIC_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "CIVIC_ANTHROPIC_MODEL"},
	{Key: "email.smtp_enabled", EnvVar: "CIVIC_EMAIL_SMTP_ENABLED"},
	{Key: "email.smtp_host", EnvVar: "CIVIC_EMAIL_SMTP_HOST"},
	{Key: "email.smtp_port", EnvVar: "CIVIC_EMAIL_SMTP_PORT"},
	{Key: "email.smtp_user", EnvVar: "CIVIC_EMAIL_SMTP_USER"},
	{Key: "email.from", EnvVar: "CIVIC_EMAIL_FROM"},
	{Key: "reminder.interval", EnvVar: "CIVIC_REMINDER_INTERVAL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "anthropic.api_key" || k.Key == "email.smtp_pass" {
			if s, ok := val.(string); ok && s != "" {
				val = "(set)"
			}
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'civic config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
