package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/redact-cli/config"
	"github.com/otherjamesbrown/redact-cli/pkg/api"
	"github.com/otherjamesbrown/redact-cli/pkg/db"
	"github.com/otherjamesbrown/redact-cli/pkg/events"
	"github.com/otherjamesbrown/redact-cli/pkg/export"
	"github.com/otherjamesbrown/redact-cli/pkg/history"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/observability"
	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
	"github.com/otherjamesbrown/redact-cli/pkg/workspace"
)

// serveConnectAttempts is how often serve retries the history database at
// startup.
const serveConnectAttempts = 5

// ServeHistory is what the server needs from the history store.
type ServeHistory interface {
	api.HistoryLister
	Observe(s orchestrator.Session)
}

// ServeCommandDeps holds the dependencies for the serve command.
type ServeCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	NewLogger   func(*config.CLIConfig) logging.Logger
	NewAnalyzer func(*config.CLIConfig, logging.Logger, *observability.Metrics) (orchestrator.Analyzer, error)
	// OpenHistory opens the history store and registers its pool metrics.
	OpenHistory   func(context.Context, *config.CLIConfig, logging.Logger, prometheus.Registerer) (ServeHistory, func(), error)
	ConnectEvents func(*config.CLIConfig, logging.Logger) (events.Sender, func(), error)
	Serve         func(ctx context.Context, addr string, handler http.Handler, logger logging.Logger, ready func(net.Addr)) error
	Err           io.Writer
	// Ready is called once the listener is bound.
	Ready func(net.Addr)
}

// DefaultServeDeps returns the default dependencies for production use.
func DefaultServeDeps() *ServeCommandDeps {
	return &ServeCommandDeps{
		LoadConfig: config.LoadConfig,
		NewLogger:  NewLogger,
		NewAnalyzer: func(cfg *config.CLIConfig, logger logging.Logger, m *observability.Metrics) (orchestrator.Analyzer, error) {
			c, err := newAnalyzerClient(cfg, logger, m)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		OpenHistory:   openServeHistory,
		ConnectEvents: connectEvents,
		Serve:         api.Serve,
		Err:           os.Stderr,
	}
}

func openServeHistory(ctx context.Context, cfg *config.CLIConfig, logger logging.Logger, reg prometheus.Registerer) (ServeHistory, func(), error) {
	repo, pool, err := openRepository(ctx, cfg, logger, serveConnectAttempts)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.RegisterPoolStatsCollector(pool, reg); err != nil {
		logger.Warn("Pool metrics unavailable", logging.Err(err))
	}
	return repo, func() { db.Close(pool) }, nil
}

// NewServeCommand creates the serve command.
func NewServeCommand(deps *ServeCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultServeDeps()
	}
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front end for upload processing",
		Long: `Serve the upload workspace over HTTP.

One workspace is shared by all clients: starting a new session replaces the
previous one, and the outcome stays available for export until it is cleared.

Routes:
  POST   /api/session              start a session (multipart "file" or "text")
  GET    /api/session              current session snapshot
  DELETE /api/session              clear the workspace
  GET    /api/session/export/:fmt  export the outcome (csv, json, pdf, txt)
  GET    /api/categories           selectable entity categories
  GET    /api/history              recorded runs (when history is configured)
  GET    /healthz, /version, /metrics

Examples:
  redact serve
  redact serve --address 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, deps, address)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Listen address (default from config)")
	return cmd
}

func runServe(ctx context.Context, deps *ServeCommandDeps, address string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if address == "" {
		address = cfg.Serve.Address
	}

	filter, err := cfg.EntityFilter()
	if err != nil {
		return fmt.Errorf("invalid default entity types: %w", err)
	}
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}

	logger := deps.NewLogger(cfg).With(logging.F("command", "serve"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	analyzer, err := deps.NewAnalyzer(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("creating analyzer client: %w", err)
	}

	orch := orchestrator.New(analyzer, orchestrator.WithLogger(logger), orchestrator.WithMetrics(metrics))

	if cfg.Redis.Enabled {
		sender, closeEvents, err := deps.ConnectEvents(cfg, logger)
		if err != nil {
			logger.Warn("Session events disabled", logging.Err(err))
		} else {
			pub := events.NewAsyncPublisher(sender, events.DefaultAsyncConfig(), logger)
			defer func() {
				_ = pub.Close()
				closeEvents()
			}()
			orch.Subscribe(pub.Observer())
		}
	}

	handlerOpts := []api.Option{
		api.WithLogger(logger),
		api.WithGatherer(reg),
		api.WithDefaults(filter, mode),
		api.WithBaseContext(ctx),
	}
	if cfg.History.IsConfigured() {
		store, closeStore, err := deps.OpenHistory(ctx, cfg, logger, reg)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer closeStore()
		orch.Subscribe(store.Observe)
		handlerOpts = append(handlerOpts, api.WithHistory(store))
	}

	ws := workspace.New(orch,
		workspace.WithLogger(logger),
		workspace.WithExporter(export.New(export.WithMetrics(metrics))),
	)
	defer ws.Close()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(ws, handlerOpts...))

	ready := func(addr net.Addr) {
		fmt.Fprintf(deps.Err, "Serving on http://%s\n", addr)
		if deps.Ready != nil {
			deps.Ready(addr)
		}
	}
	return deps.Serve(ctx, address, router, logger, ready)
}

// compile-time check
var _ ServeHistory = (*history.Repository)(nil)
