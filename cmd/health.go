package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/redact-cli/client"
	"github.com/otherjamesbrown/redact-cli/config"
	"github.com/otherjamesbrown/redact-cli/pkg/db"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
)

// HealthCommandDeps holds the dependencies for the health command.
type HealthCommandDeps struct {
	LoadConfig    func() (*config.CLIConfig, error)
	NewLogger     func(*config.CLIConfig) logging.Logger
	CheckAnalyzer func(context.Context, *config.CLIConfig, logging.Logger) (*client.HealthStatus, error)
	CheckDatabase func(context.Context, *config.CLIConfig) (*db.HealthStatus, error)
	PingRedis     func(context.Context, config.RedisConfig) error
	Out           io.Writer
}

// DefaultHealthDeps returns the default dependencies for production use.
func DefaultHealthDeps() *HealthCommandDeps {
	return &HealthCommandDeps{
		LoadConfig:    config.LoadConfig,
		NewLogger:     NewLogger,
		CheckAnalyzer: checkAnalyzer,
		CheckDatabase: checkDatabase,
		PingRedis:     pingRedis,
		Out:           os.Stdout,
	}
}

func checkAnalyzer(ctx context.Context, cfg *config.CLIConfig, logger logging.Logger) (*client.HealthStatus, error) {
	c, err := newAnalyzerClient(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	return c.Health(ctx)
}

func checkDatabase(ctx context.Context, cfg *config.CLIConfig) (*db.HealthStatus, error) {
	pool, err := connectPool(ctx, cfg.History.DatabaseURL, 1)
	if err != nil {
		return nil, err
	}
	defer db.Close(pool)
	return db.Check(ctx, pool), nil
}

// componentHealth is one line of the health report.
type componentHealth struct {
	Name      string  `json:"name" yaml:"name"`
	Healthy   bool    `json:"healthy" yaml:"healthy"`
	Target    string  `json:"target,omitempty" yaml:"target,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty" yaml:"latency_ms,omitempty"`
	Message   string  `json:"message,omitempty" yaml:"message,omitempty"`
}

type healthReport struct {
	Healthy    bool              `json:"healthy" yaml:"healthy"`
	Components []componentHealth `json:"components" yaml:"components"`
}

var (
	healthyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true)
	unhealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true)
)

// NewHealthCommand creates the health command.
func NewHealthCommand(deps *HealthCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultHealthDeps()
	}
	var output string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the analyzer and optional backing services",
		Long: `Probe the PII Analysis Service health endpoint, plus the history database
and Redis when they are configured. Exits non-zero if any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runHealth(ctx, deps, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func runHealth(ctx context.Context, deps *HealthCommandDeps, output string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	format, err := outputFormat(cfg, output)
	if err != nil {
		return err
	}
	logger := deps.NewLogger(cfg).With(logging.F("command", "health"))

	report := healthReport{Healthy: true}
	add := func(c componentHealth) {
		report.Components = append(report.Components, c)
		if !c.Healthy {
			report.Healthy = false
		}
	}

	if cfg.TLS.Enabled {
		tlsCfg := cfg.TLS
		certs := componentHealth{Name: "tls certificates", Target: tlsCfg.CertDir, Healthy: true}
		if err := client.CheckCertsExist(&tlsCfg); err != nil {
			certs.Healthy = false
			certs.Message = err.Error()
		}
		add(certs)
	}

	analyzer := componentHealth{Name: "analyzer", Target: cfg.AnalyzerURL}
	if hs, err := deps.CheckAnalyzer(ctx, cfg, logger); err != nil {
		analyzer.Message = err.Error()
	} else {
		analyzer.Healthy = hs.Healthy
		analyzer.LatencyMs = hs.LatencyMs
		analyzer.Message = hs.Message
		if hs.URL != "" {
			analyzer.Target = hs.URL
		}
	}
	add(analyzer)

	if cfg.History.IsConfigured() {
		database := componentHealth{Name: "history database"}
		if hs, err := deps.CheckDatabase(ctx, cfg); err != nil {
			database.Message = err.Error()
		} else {
			database.Healthy = hs.Healthy
			database.LatencyMs = float64(hs.Latency) / float64(time.Millisecond)
			database.Message = hs.Error
		}
		add(database)
	}

	if cfg.Redis.Enabled {
		r := componentHealth{Name: "redis", Target: cfg.Redis.Addr}
		start := time.Now()
		if err := deps.PingRedis(ctx, cfg.Redis); err != nil {
			r.Message = err.Error()
		} else {
			r.Healthy = true
			r.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)
		}
		add(r)
	}

	if err := writeOutput(deps.Out, format, report, func(w io.Writer) error {
		for _, c := range report.Components {
			mark := healthyStyle.Render("OK  ")
			if !c.Healthy {
				mark = unhealthyStyle.Render("FAIL")
			}
			fmt.Fprintf(w, "%s %-17s", mark, c.Name)
			if c.Target != "" {
				fmt.Fprintf(w, " %s", c.Target)
			}
			if c.Healthy {
				fmt.Fprintf(w, " (%.0fms)", c.LatencyMs)
			}
			if c.Message != "" {
				fmt.Fprintf(w, " %s", c.Message)
			}
			fmt.Fprintln(w)
		}
		return nil
	}); err != nil {
		return err
	}

	if !report.Healthy {
		return errors.New("one or more health checks failed")
	}
	return nil
}
