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

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/otherjamesbrown/redact-cli/config"
	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/events"
	"github.com/otherjamesbrown/redact-cli/pkg/export"
	"github.com/otherjamesbrown/redact-cli/pkg/history"
	"github.com/otherjamesbrown/redact-cli/pkg/intake"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
	"github.com/otherjamesbrown/redact-cli/pkg/workspace"
)

// recordTimeout bounds the history write after a scan.
const recordTimeout = 5 * time.Second

// ScanCommandDeps holds the dependencies for the scan command.
type ScanCommandDeps struct {
	LoadConfig     func() (*config.CLIConfig, error)
	NewLogger      func(*config.CLIConfig) logging.Logger
	NewAnalyzer    func(*config.CLIConfig, logging.Logger) (orchestrator.Analyzer, error)
	ConnectHistory func(context.Context, *config.CLIConfig, logging.Logger) (HistoryStore, func(), error)
	ConnectEvents  func(*config.CLIConfig, logging.Logger) (events.Sender, func(), error)
	Deliverer      func(f export.Format, dir string) export.Deliverer
	Stdin          io.Reader
	Out            io.Writer
	Err            io.Writer
	// ShowProgress reports whether the live progress line is drawn on Err.
	ShowProgress func() bool
}

// DefaultScanDeps returns the default dependencies for production use.
func DefaultScanDeps() *ScanCommandDeps {
	return &ScanCommandDeps{
		LoadConfig: config.LoadConfig,
		NewLogger:  NewLogger,
		NewAnalyzer: func(cfg *config.CLIConfig, logger logging.Logger) (orchestrator.Analyzer, error) {
			c, err := newAnalyzerClient(cfg, logger, nil)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		ConnectHistory: connectHistory,
		ConnectEvents:  connectEvents,
		Deliverer:      export.DelivererFor,
		Stdin:          os.Stdin,
		Out:            os.Stdout,
		Err:            os.Stderr,
		ShowProgress:   func() bool { return isTerminal(os.Stderr) },
	}
}

type scanOptions struct {
	text       string
	types      string
	mode       string
	exports    []string
	exportDir  string
	record     bool
	noProgress bool
	output     string
}

// NewScanCommand creates the scan command.
func NewScanCommand(deps *ScanCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultScanDeps()
	}
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan [file|-]",
		Short: "Scan a document for PII and show the redacted result",
		Long: `Submit one document to the PII Analysis Service and report what it found.

The document is checked locally first: it must be at most 5 MB and one of
text, CSV, PDF, PNG, JPEG or JSON. Use "-" to read text from stdin, or --text
to scan a pasted string.

Exports are written to the export directory (default ~/.redact/exports).
The pdf format opens a print-ready report in the browser.

Examples:
  redact scan contract.pdf
  redact scan notes.txt --types email,phone --mode mask
  redact scan --text "Call 555-0100 or mail jo@example.com"
  redact scan data.csv --export csv --export json
  redact scan memo.txt --export all --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), deps, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.text, "text", "", "Scan this text instead of a file")
	cmd.Flags().StringVar(&opts.types, "types", "", "Comma-separated entity types to detect, or \"all\" (default from config)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Redaction mode: full, mask, synthetic (default from config)")
	cmd.Flags().StringSliceVar(&opts.exports, "export", nil, "Export formats: csv, json, pdf, txt, or all (repeatable)")
	cmd.Flags().StringVar(&opts.exportDir, "export-dir", "", "Directory for exported files (default from config)")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Record the run in the history database")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Do not draw the progress line")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func runScan(ctx context.Context, deps *ScanCommandDeps, opts *scanOptions, args []string) error {
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

	filter, err := cfg.EntityFilter()
	if opts.types != "" {
		filter, err = redaction.ParseEntityTypeFilter(opts.types)
	}
	if err != nil {
		return fmt.Errorf("invalid entity types: %w", err)
	}

	mode, err := cfg.Mode()
	if opts.mode != "" {
		mode, err = redaction.ParseMode(opts.mode)
	}
	if err != nil {
		return err
	}

	formats, err := parseExportFormats(opts.exports)
	if err != nil {
		return withSuggestion(err)
	}

	file, err := stageInput(args, opts.text, deps.Stdin)
	if err != nil {
		return withSuggestion(err)
	}

	logger := deps.NewLogger(cfg).With(logging.F("command", "scan"))

	var store HistoryStore
	if opts.record || cfg.History.IsConfigured() {
		s, closeStore, err := deps.ConnectHistory(ctx, cfg, logger)
		switch {
		case err == nil:
			store = s
			defer closeStore()
		case opts.record:
			return fmt.Errorf("opening history: %w", err)
		default:
			logger.Warn("History unavailable, run will not be recorded", logging.Err(err))
		}
	}

	analyzer, err := deps.NewAnalyzer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating analyzer client: %w", err)
	}

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	progress := !opts.noProgress && format == config.OutputFormatText && deps.ShowProgress != nil && deps.ShowProgress()
	if progress {
		orchOpts = append(orchOpts, orchestrator.WithObserver(progressLine(deps.Err)))
	}
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
			orchOpts = append(orchOpts, orchestrator.WithObserver(pub.Observer()))
		}
	}

	ws := workspace.New(orchestrator.New(analyzer, orchOpts...), workspace.WithLogger(logger))
	defer ws.Close()

	if err := ws.Stage(file); err != nil {
		return err
	}
	outcome, runErr := ws.Run(ctx, filter, mode)
	if progress {
		fmt.Fprint(deps.Err, "\r\033[K")
	}

	if store != nil {
		recordRun(store, ws.Session(), logger)
	}
	if runErr != nil {
		return withSuggestion(runErr)
	}

	summary := newScanSummary(outcome)
	if err := writeOutput(deps.Out, format, summary, func(w io.Writer) error {
		return printScanText(w, outcome)
	}); err != nil {
		return err
	}

	if len(formats) == 0 {
		return nil
	}
	dir := opts.exportDir
	if dir == "" {
		if dir, err = cfg.GetExportDir(); err != nil {
			return err
		}
	}
	return deliverExports(ctx, deps, ws, formats, dir)
}

// stageInput stages the file argument, stdin ("-") or --text.
func stageInput(args []string, text string, stdin io.Reader) (*intake.StagedFile, error) {
	switch {
	case text != "" && len(args) > 0:
		return nil, errors.New("give either a file or --text, not both")
	case text != "":
		return intake.StageText(text)
	case len(args) == 0:
		return nil, errors.New("a file argument, \"-\" or --text is required")
	case args[0] == "-":
		data, err := io.ReadAll(io.LimitReader(stdin, intake.MaxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		if int64(len(data)) > intake.MaxFileSize {
			return intake.Stage(intake.Candidate{Name: intake.RawTextName, MediaType: intake.MediaTypeText, Data: data})
		}
		return intake.StageText(string(data))
	default:
		candidate, err := intake.CandidateFromPath(args[0])
		if err != nil {
			return nil, err
		}
		return intake.Stage(candidate)
	}
}

// parseExportFormats expands "all" and rejects unknown names.
func parseExportFormats(names []string) ([]export.Format, error) {
	var formats []export.Format
	seen := make(map[export.Format]bool)
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			for _, f := range export.AllFormats {
				if !seen[f] {
					seen[f] = true
					formats = append(formats, f)
				}
			}
			continue
		}
		f, err := export.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	return formats, nil
}

// progressLine redraws one status line per transition.
func progressLine(w io.Writer) orchestrator.Observer {
	return func(s orchestrator.Session) {
		if !s.State.InFlight() {
			return
		}
		fmt.Fprintf(w, "\r\033[K[%3d%%] %s", s.Progress, s.State.Label())
	}
}

func recordRun(store HistoryStore, s orchestrator.Session, logger logging.Logger) {
	run, ok := history.RunFromSession(s)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := store.Record(ctx, run); err != nil {
		logger.Warn("Failed to record run", logging.Err(err), logging.F("session_id", s.ID))
	}
}

func deliverExports(ctx context.Context, deps *ScanCommandDeps, ws *workspace.Workspace, formats []export.Format, dir string) error {
	results, err := ws.ExportAll(ctx, formats...)
	if err != nil {
		return err
	}

	var failed []string
	for _, r := range results {
		if r.Err != nil {
			if apperrors.IsExportReason(r.Err, apperrors.ReasonNoRedactedTextAvailable) {
				fmt.Fprintf(deps.Err, "Skipped %s: %v\n", r.Format.Title(), r.Err)
				continue
			}
			failed = append(failed, fmt.Sprintf("%s: %v", r.Format, r.Err))
			continue
		}

		where, err := deps.Deliverer(r.Format, dir).Deliver(ctx, r.Artifact)
		switch {
		case err == nil:
			fmt.Fprintf(deps.Err, "Exported %s: %s\n", r.Format.Title(), where)
		case apperrors.IsExportReason(err, apperrors.ReasonPopupBlocked) && where != "":
			fmt.Fprintf(deps.Err, "Could not open a browser for the %s; open %s to print it\n", r.Format.Title(), where)
		default:
			failed = append(failed, fmt.Sprintf("%s: %v", r.Format, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("export failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

// withSuggestion appends the registry's suggested action to err.
func withSuggestion(err error) error {
	code := apperrors.Classify(err)
	if action := apperrors.GetSuggestedAction(code); action != "" && code != apperrors.CodeInternal {
		return fmt.Errorf("%w\n  Suggested action: %s", err, action)
	}
	return err
}

// scanSummary is the machine-readable scan result.
type scanSummary struct {
	FileName              string         `json:"file_name" yaml:"file_name"`
	FileSizeBytes         int64          `json:"file_size_bytes" yaml:"file_size_bytes"`
	Mode                  string         `json:"mode" yaml:"mode"`
	RiskScore             int            `json:"risk_score" yaml:"risk_score"`
	RiskLevel             string         `json:"risk_level" yaml:"risk_level"`
	EntityCount           int            `json:"entity_count" yaml:"entity_count"`
	CategoryCounts        map[string]int `json:"category_counts" yaml:"category_counts"`
	TokensOriginal        int            `json:"tokens_original" yaml:"tokens_original"`
	TokensRedacted        int            `json:"tokens_redacted" yaml:"tokens_redacted"`
	TokenReductionPercent int            `json:"token_reduction_percent" yaml:"token_reduction_percent"`
	ProcessingTime        string         `json:"processing_time" yaml:"processing_time"`
	Entities              []scanEntity   `json:"entities" yaml:"entities"`
	RedactedText          string         `json:"redacted_text,omitempty" yaml:"redacted_text,omitempty"`
}

type scanEntity struct {
	Type          string  `json:"type" yaml:"type"`
	Label         string  `json:"label" yaml:"label"`
	OriginalValue string  `json:"original_value" yaml:"original_value"`
	MaskedValue   string  `json:"masked_value" yaml:"masked_value"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
}

func newScanSummary(o *redaction.Outcome) scanSummary {
	s := scanSummary{
		FileName:              o.FileName,
		FileSizeBytes:         o.FileSizeBytes,
		Mode:                  string(o.Mode),
		RiskScore:             o.RiskScore,
		RiskLevel:             string(o.EffectiveRiskLevel()),
		EntityCount:           o.EntityCount(),
		CategoryCounts:        o.EntityCountsByCategory,
		TokensOriginal:        o.TokenCountOriginal,
		TokensRedacted:        o.TokenCountRedacted,
		TokenReductionPercent: o.TokenReductionPercent(),
		ProcessingTime:        o.ProcessingTime(),
		Entities:              make([]scanEntity, 0, len(o.Entities)),
		RedactedText:          o.RedactedText,
	}
	if s.CategoryCounts == nil {
		s.CategoryCounts = map[string]int{}
	}
	for _, e := range o.Entities {
		s.Entities = append(s.Entities, scanEntity{
			Type:          e.Category,
			Label:         e.DisplayLabel(),
			OriginalValue: e.OriginalValue,
			MaskedValue:   e.MaskedValue,
			Confidence:    e.Confidence,
		})
	}
	return s
}

// riskBadge renders the risk level in its report color.
func riskBadge(level redaction.RiskLevel) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color(export.RiskColor(level))).
		Padding(0, 1).
		Render(string(level))
}

func printScanText(w io.Writer, o *redaction.Outcome) error {
	p := message.NewPrinter(language.English)
	level := o.EffectiveRiskLevel()

	fmt.Fprintf(w, "File:        %s (%.1f KB)\n", o.FileName, float64(o.FileSizeBytes)/1024)
	fmt.Fprintf(w, "Risk:        %s score %d\n", riskBadge(level), o.RiskScore)
	p.Fprintf(w, "Entities:    %d\n", o.EntityCount())
	p.Fprintf(w, "Tokens:      %d -> %d (%d%% reduction)\n",
		o.TokenCountOriginal, o.TokenCountRedacted, o.TokenReductionPercent())
	fmt.Fprintf(w, "Mode:        %s\n", o.Mode.Label())
	fmt.Fprintf(w, "Processing:  %s\n", o.ProcessingTime())

	if len(o.Entities) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tVALUE\tMASKED\tCONFIDENCE")
		for _, e := range o.Entities {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.DisplayLabel(), e.OriginalValue, e.MaskedValue, export.ConfidencePercent(e.Confidence))
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Fprintln(w, "\nBy category:")
		for _, code := range redaction.SortedKeys(o.EntityCountsByCategory) {
			p.Fprintf(w, "  %-14s %d\n", redaction.DisplayLabel(code), o.EntityCountsByCategory[code])
		}
	}

	if o.HasRedactedText() {
		fmt.Fprintln(w, "\nRedacted text:")
		fmt.Fprintln(w, o.RedactedText)
	}
	return nil
}
