// Package cmd provides CLI commands for the redact tool.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/redact-cli/client"
	"github.com/otherjamesbrown/redact-cli/config"
	"github.com/otherjamesbrown/redact-cli/credentials"
	"github.com/otherjamesbrown/redact-cli/pkg/db"
	"github.com/otherjamesbrown/redact-cli/pkg/events"
	"github.com/otherjamesbrown/redact-cli/pkg/history"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/observability"
)

// HistoryStore is the subset of *history.Repository the commands use.
type HistoryStore interface {
	Record(ctx context.Context, run *history.Run) error
	List(ctx context.Context, filter history.Filter) ([]*history.Run, error)
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// errHistoryNotConfigured is returned when a command needs the history store
// but no database is configured.
var errHistoryNotConfigured = errors.New("history is not configured; set history.database_url or REDACT_DATABASE_URL")

const connectRetryDelay = 2 * time.Second

// NewLogger builds the logger for a command from configuration. Logs go to
// stderr so stdout stays machine-readable.
func NewLogger(cfg *config.CLIConfig) logging.Logger {
	lc := logging.DefaultConfig()
	lc.Level = logging.LevelWarn
	if cfg != nil {
		if cfg.Debug {
			lc.Level = logging.LevelDebug
		}
		lc.JSONFormat = cfg.LogJSON
	}
	return logging.NewLogger(lc)
}

// outputFormat resolves the --output flag against the configured default.
func outputFormat(cfg *config.CLIConfig, flag string) (config.OutputFormat, error) {
	if flag == "" {
		return cfg.OutputFormat, nil
	}
	f := config.OutputFormat(flag)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", flag)
	}
	return f, nil
}

// writeOutput encodes v as JSON or YAML, or calls text for the text format.
func writeOutput(w io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return text(w)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// analyzerToken returns the token to send to the analyzer. A broken
// credential store degrades to no token with a warning, since the analyzer
// may not require one.
func analyzerToken(logger logging.Logger) string {
	if token := os.Getenv(credentials.EnvToken); token != "" {
		return token
	}
	store, err := credentials.NewStore()
	if err != nil {
		logger.Debug("Credential store unavailable", logging.Err(err))
		return ""
	}
	token, _, err := store.ActiveToken()
	if err != nil {
		logger.Warn("Ignoring unreadable credentials", logging.Err(err))
		return ""
	}
	return token
}

// newAnalyzerClient builds the Analysis Service client from configuration
// and stored credentials.
func newAnalyzerClient(cfg *config.CLIConfig, logger logging.Logger, metrics *observability.Metrics) (*client.AnalyzerClient, error) {
	opts := []client.Option{client.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, client.WithMetrics(metrics))
	}
	return client.FromConfig(cfg, analyzerToken(logger), opts...)
}

// connectPool opens the history database pool. With attempts > 1 it retries
// while the database comes up.
func connectPool(ctx context.Context, databaseURL string, attempts int) (*pgxpool.Pool, error) {
	dbCfg := db.DefaultConfig(databaseURL)
	if err := dbCfg.Validate(); err != nil {
		return nil, err
	}
	if attempts > 1 {
		return db.ConnectWithRetry(ctx, dbCfg, attempts, connectRetryDelay)
	}
	return db.Connect(ctx, dbCfg)
}

// connectHistory opens the history repository and applies migrations.
func connectHistory(ctx context.Context, cfg *config.CLIConfig, logger logging.Logger) (HistoryStore, func(), error) {
	repo, pool, err := openRepository(ctx, cfg, logger, 1)
	if err != nil {
		return nil, nil, err
	}
	return repo, func() { db.Close(pool) }, nil
}

func openRepository(ctx context.Context, cfg *config.CLIConfig, logger logging.Logger, attempts int) (*history.Repository, *pgxpool.Pool, error) {
	if !cfg.History.IsConfigured() {
		return nil, nil, errHistoryNotConfigured
	}
	pool, err := connectPool(ctx, cfg.History.DatabaseURL, attempts)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to history database: %w", err)
	}
	repo := history.NewRepository(pool, logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close(pool)
		return nil, nil, err
	}
	return repo, pool, nil
}

// connectEvents opens the Redis publisher for session events.
func connectEvents(cfg *config.CLIConfig, logger logging.Logger) (events.Sender, func(), error) {
	pub, err := events.NewPublisherFromConfig(events.PublisherConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() { _ = pub.Close() }, nil
}

// pingRedis checks that the configured Redis answers.
func pingRedis(ctx context.Context, rc config.RedisConfig) error {
	c := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	defer c.Close()
	return c.Ping(ctx).Err()
}
