// Package main provides the redact CLI entry point.
// redact stages documents, submits them to the PII Analysis Service and
// exports the redaction report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/redact-cli/cmd"
	"github.com/otherjamesbrown/redact-cli/config"
	"github.com/otherjamesbrown/redact-cli/pkg/buildinfo"
	"github.com/otherjamesbrown/redact-cli/pkg/db"
)

// Global flags and state.
var (
	analyzerURL  string
	timeout      time.Duration
	outputFormat string
	debug        bool

	// cfg holds the loaded configuration with flag overrides applied.
	cfg *config.CLIConfig
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "redact",
	Short: "Redact CLI - scan documents for PII and export redaction reports",
	Long: `redact submits documents to the PII Analysis Service and reports what it found.

A document is checked locally (5 MB limit; text, CSV, PDF, PNG, JPEG or JSON),
sent for analysis with the selected entity types, and the result is shown as
a risk summary with the redacted text. Reports can be exported as CSV, JSON,
redacted text, or a print-ready PDF summary.

COMMON WORKFLOWS:
  Scan a file:        redact scan contract.pdf
  Scan pasted text:   redact scan --text "Call 555-0100"
  Export reports:     redact scan data.csv --export all
  Run the web front:  redact serve
  Check connectivity: redact health

Commands support --output json for structured data. Run 'redact <command>
--help' for flags and examples.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		loaded, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		// Override with command-line flags.
		if analyzerURL != "" {
			loaded.AnalyzerURL = analyzerURL
		}
		if timeout != 0 {
			loaded.Timeout = timeout
		}
		if outputFormat != "" {
			format := config.OutputFormat(outputFormat)
			if !format.IsValid() {
				return fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", outputFormat)
			}
			loaded.OutputFormat = format
		}
		if debug {
			loaded.Debug = true
		}

		cfg = loaded
		return nil
	},
}

// loadRootConfig hands subcommands the configuration loaded by the root.
func loadRootConfig() (*config.CLIConfig, error) {
	if cfg != nil {
		return cfg, nil
	}
	return config.LoadConfig()
}

var versionOutputJSON bool

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildinfo.Get("redact")
		if versionOutputJSON {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "redact %s\n", buildinfo.String())
		fmt.Fprintf(cmd.OutOrStdout(), "  Go:       %s\n", info.GoVersion)
		fmt.Fprintf(cmd.OutOrStdout(), "  Platform: %s\n", info.Platform)
		return nil
	},
}

// configCmd is the parent for configuration commands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `View and modify the redact CLI configuration (~/.redact/config.yaml).`,
}

// configShowCmd displays current configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := loadRootConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		return showConfig(cmd.OutOrStdout(), current)
	},
}

func showConfig(w io.Writer, c *config.CLIConfig) error {
	safe := *c
	if safe.Redis.Password != "" {
		safe.Redis.Password = "(hidden)"
	}
	if safe.History.IsConfigured() {
		safe.History.DatabaseURL = db.DefaultConfig(safe.History.DatabaseURL).Redacted()
	}

	switch c.OutputFormat {
	case config.OutputFormatJSON:
		return writeJSON(w, safe)
	case config.OutputFormatYAML:
		return writeYAML(w, safe)
	}

	configPath, _ := config.ConfigPath()
	exportDir, _ := c.GetExportDir()

	fmt.Fprintln(w, "Current configuration:")
	fmt.Fprintf(w, "  Config file:    %s\n", configPath)
	fmt.Fprintf(w, "  Analyzer URL:   %s\n", c.AnalyzerURL)
	fmt.Fprintf(w, "  Timeout:        %s\n", c.Timeout)
	fmt.Fprintf(w, "  Output format:  %s\n", c.OutputFormat)
	fmt.Fprintf(w, "  Default mode:   %s\n", c.DefaultMode)
	fmt.Fprintf(w, "  Default types:  %s\n", c.DefaultTypes)
	fmt.Fprintf(w, "  Export dir:     %s\n", exportDir)
	fmt.Fprintf(w, "  Serve address:  %s\n", c.Serve.Address)
	fmt.Fprintf(w, "  History:        %s\n", valueOrDefault(safe.History.DatabaseURL, "(not set)"))
	fmt.Fprintf(w, "  Redis events:   %s\n", enabledString(c.Redis.Enabled))
	fmt.Fprintf(w, "  TLS:            %s\n", enabledString(c.TLS.Enabled))
	fmt.Fprintf(w, "  Debug:          %t\n", c.Debug)
	return nil
}

func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func enabledString(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// configInitCmd initializes configuration.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with default values if one doesn't exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := config.ConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}

		out := cmd.OutOrStdout()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(out, "Configuration file already exists: %s\n", configPath)
			fmt.Fprintln(out, "Use 'redact config show' to view current settings.")
			return nil
		}

		defaultCfg := config.DefaultConfig()
		if err := config.SaveConfig(defaultCfg); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(out, "Created configuration file: %s\n", configPath)
		fmt.Fprintln(out, "\nDefault settings:")
		fmt.Fprintf(out, "  Analyzer URL:   %s\n", defaultCfg.AnalyzerURL)
		fmt.Fprintf(out, "  Timeout:        %s\n", defaultCfg.Timeout)
		fmt.Fprintf(out, "  Default mode:   %s\n", defaultCfg.DefaultMode)
		return nil
	},
}

// configSetCmd sets a configuration value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Available keys:
  ` + strings.Join(config.Keys(), "\n  ") + `

Examples:
  redact config set analyzer_url https://pii.example.com
  redact config set default_mode mask
  redact config set default_types email,phone,ssn
  redact config set history.database_url postgres://localhost/redact`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		// Flag overrides must not leak into the file, so start from disk.
		current, err := config.LoadConfig()
		if err != nil {
			current = config.DefaultConfig()
		}
		if err := current.Set(key, value); err != nil {
			return err
		}
		if err := config.SaveConfig(current); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		if strings.Contains(key, "password") || strings.Contains(key, "database_url") {
			value = "(hidden)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for redact.

Bash:
  $ source <(redact completion bash)

Zsh:
  $ redact completion zsh > "${fpath[1]}/_redact"

Fish:
  $ redact completion fish | source

PowerShell:
  PS> redact completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&analyzerURL, "analyzer-url", "", "PII Analysis Service URL (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Request timeout (overrides config)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "", "Default output format: text, json, yaml (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Print version information as JSON")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)

	rootCmd.AddGroup(
		&cobra.Group{ID: "scan", Title: "Scanning:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	scanDeps := cmd.DefaultScanDeps()
	scanDeps.LoadConfig = loadRootConfig
	scanCmd := cmd.NewScanCommand(scanDeps)
	scanCmd.GroupID = "scan"
	rootCmd.AddCommand(scanCmd)

	serveDeps := cmd.DefaultServeDeps()
	serveDeps.LoadConfig = loadRootConfig
	serveCmd := cmd.NewServeCommand(serveDeps)
	serveCmd.GroupID = "scan"
	rootCmd.AddCommand(serveCmd)

	historyDeps := cmd.DefaultHistoryDeps()
	historyDeps.LoadConfig = loadRootConfig
	historyCmd := cmd.NewHistoryCommand(historyDeps)
	historyCmd.GroupID = "ops"
	rootCmd.AddCommand(historyCmd)

	healthDeps := cmd.DefaultHealthDeps()
	healthDeps.LoadConfig = loadRootConfig
	healthCmd := cmd.NewHealthCommand(healthDeps)
	healthCmd.GroupID = "ops"
	rootCmd.AddCommand(healthCmd)

	authDeps := cmd.DefaultAuthDeps()
	authDeps.LoadConfig = loadRootConfig
	authCmd := cmd.NewAuthCommand(authDeps)
	authCmd.GroupID = "setup"
	rootCmd.AddCommand(authCmd)

	configCmd.GroupID = "setup"
	rootCmd.AddCommand(configCmd)

	versionCmd.GroupID = "setup"
	rootCmd.AddCommand(versionCmd)

	completionCmd.GroupID = "setup"
	rootCmd.AddCommand(completionCmd)

	rootCmd.SetHelpCommandGroupID("setup")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
