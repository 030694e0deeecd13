package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/redact-cli/config"
	"github.com/otherjamesbrown/redact-cli/pkg/db"
	"github.com/otherjamesbrown/redact-cli/pkg/history"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// HistoryCommandDeps holds the dependencies for the history commands.
type HistoryCommandDeps struct {
	LoadConfig     func() (*config.CLIConfig, error)
	NewLogger      func(*config.CLIConfig) logging.Logger
	ConnectHistory func(context.Context, *config.CLIConfig, logging.Logger) (HistoryStore, func(), error)
	// MigrationStatus reports applied and pending schema migrations.
	MigrationStatus func(context.Context, *config.CLIConfig) ([]db.MigrationStatusEntry, error)
	Out             io.Writer
	Now             func() time.Time
}

// DefaultHistoryDeps returns the default dependencies for production use.
func DefaultHistoryDeps() *HistoryCommandDeps {
	return &HistoryCommandDeps{
		LoadConfig:      config.LoadConfig,
		NewLogger:       NewLogger,
		ConnectHistory:  connectHistory,
		MigrationStatus: migrationStatus,
		Out:             os.Stdout,
		Now:             time.Now,
	}
}

func migrationStatus(ctx context.Context, cfg *config.CLIConfig) ([]db.MigrationStatusEntry, error) {
	if !cfg.History.IsConfigured() {
		return nil, errHistoryNotConfigured
	}
	pool, err := connectPool(ctx, cfg.History.DatabaseURL, 1)
	if err != nil {
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}
	defer db.Close(pool)
	return db.MigrationStatus(ctx, pool)
}

// NewHistoryCommand creates the history command group.
func NewHistoryCommand(deps *HistoryCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultHistoryDeps()
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded processing runs",
		Long: `Inspect runs recorded in the history database.

A run records the file name, fingerprint, mode, risk, entity counts and
timing of a finished session. Entity values and document text are never
stored.

Requires history.database_url (or REDACT_DATABASE_URL).`,
	}

	cmd.AddCommand(newHistoryListCommand(deps))
	cmd.AddCommand(newHistoryPurgeCommand(deps))
	cmd.AddCommand(newHistoryMigrationsCommand(deps))
	return cmd
}

type historyListOptions struct {
	status string
	risk   string
	search string
	limit  int
	since  time.Duration
	output string
}

func newHistoryListCommand(deps *HistoryCommandDeps) *cobra.Command {
	opts := &historyListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Example: `  redact history list
  redact history list --status failed --since 24h
  redact history list --risk High --search invoice -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(cmd.Context(), deps, opts)
		},
	}

	cmd.Flags().StringVar(&opts.status, "status", "", "Filter by status: completed, failed")
	cmd.Flags().StringVar(&opts.risk, "risk", "", "Filter by risk level: Low, Medium, High, Critical")
	cmd.Flags().StringVar(&opts.search, "search", "", "Filter by file name (case-insensitive)")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only runs newer than this (e.g. 24h)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func (o *historyListOptions) filter(now time.Time) (history.Filter, error) {
	f := history.Filter{
		NameSearch: strings.TrimSpace(o.search),
		Limit:      o.limit,
	}
	if o.limit <= 0 {
		return f, errors.New("--limit must be positive")
	}
	if o.status != "" {
		s := history.Status(strings.ToLower(o.status))
		if s != history.StatusCompleted && s != history.StatusFailed {
			return f, fmt.Errorf("invalid status %q (must be completed or failed)", o.status)
		}
		f.Status = &s
	}
	if o.risk != "" {
		level := redaction.RiskLevel(o.risk).Canonical()
		switch level {
		case redaction.RiskLow, redaction.RiskMedium, redaction.RiskHigh, redaction.RiskCritical:
		default:
			return f, fmt.Errorf("invalid risk level %q", o.risk)
		}
		f.RiskLevel = string(level)
	}
	if o.since < 0 {
		return f, errors.New("--since must be positive")
	}
	if o.since > 0 {
		since := now.Add(-o.since)
		f.Since = &since
	}
	return f, nil
}

func runHistoryList(ctx context.Context, deps *HistoryCommandDeps, opts *historyListOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	format, err := outputFormat(cfg, opts.output)
	if err != nil {
		return err
	}
	filter, err := opts.filter(deps.Now())
	if err != nil {
		return err
	}

	store, closeStore, err := deps.ConnectHistory(ctx, cfg, deps.NewLogger(cfg))
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if runs == nil {
		runs = []*history.Run{}
	}

	return writeOutput(deps.Out, format, runs, func(w io.Writer) error {
		return printRunsText(w, runs)
	})
}

func printRunsText(w io.Writer, runs []*history.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tFILE\tMODE\tSTATUS\tRISK\tENTITIES\tTIME")
	for _, r := range runs {
		risk := "-"
		status := string(r.Status)
		if r.Status == history.StatusCompleted {
			risk = fmt.Sprintf("%s (%d)", r.RiskLevel, r.RiskScore)
		} else if r.FailureCode != "" {
			status += ": " + r.FailureCode
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.2fs\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.FileName, r.Mode, status, risk, r.EntityCount, r.ProcessingSeconds)
	}
	return tw.Flush()
}

func newHistoryPurgeCommand(deps *HistoryCommandDeps) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "purge",
		Short:   "Delete runs older than a given age",
		Example: `  redact history purge --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than is required and must be positive")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			store, closeStore, err := deps.ConnectHistory(ctx, cfg, deps.NewLogger(cfg))
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := store.Purge(ctx, deps.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("purging runs: %w", err)
			}
			fmt.Fprintf(deps.Out, "Deleted %d run(s) older than %s\n", n, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Delete runs older than this (e.g. 720h)")
	return cmd
}

func newHistoryMigrationsCommand(deps *HistoryCommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "Show history schema migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			format, err := outputFormat(cfg, output)
			if err != nil {
				return err
			}
			entries, err := deps.MigrationStatus(ctx, cfg)
			if err != nil {
				return err
			}
			return writeOutput(deps.Out, format, entries, func(w io.Writer) error {
				for _, e := range entries {
					if e.AppliedAt == nil {
						fmt.Fprintf(w, "%s  pending\n", e.Version)
						continue
					}
					fmt.Fprintf(w, "%s  applied %s\n", e.Version, e.AppliedAt.Local().Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}
