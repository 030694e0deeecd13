// Package workspace holds the single active document, session and outcome
// that the CLI and the HTTP front operate on. Starting a new session cancels
// and awaits the previous one first.
package workspace

import (
	"context"
	"sync"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/export"
	"github.com/otherjamesbrown/redact-cli/pkg/intake"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// Option customizes a Workspace.
type Option func(*Workspace)

// WithExporter overrides the exporter.
func WithExporter(e *export.Exporter) Option {
	return func(w *Workspace) { w.exporter = e }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(w *Workspace) { w.logger = l.With(logging.F("component", "workspace")) }
}

// Workspace serializes staging, session replacement and export.
type Workspace struct {
	orch     *orchestrator.Orchestrator
	exporter *export.Exporter
	logger   logging.Logger

	mu     sync.Mutex
	staged *intake.StagedFile
}

// New creates a Workspace around orch.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Workspace {
	w := &Workspace{
		orch:     orch,
		exporter: export.New(),
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stage makes file the active document. Any session for the previous
// document is cancelled and its outcome discarded.
func (w *Workspace) Stage(file *intake.StagedFile) error {
	if file == nil {
		return apperrors.ErrNoStagedFile
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	w.staged = file
	w.logger.Debug("Document staged",
		logging.F("file", file.Name),
		logging.F("bytes", file.Size))
	return nil
}

// Staged returns the active document, or nil.
func (w *Workspace) Staged() *intake.StagedFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.staged
}

// Start replaces any current session with a new one for the staged
// document and returns without waiting for it.
func (w *Workspace) Start(ctx context.Context, filter redaction.EntityTypeFilter, mode redaction.Mode) (orchestrator.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.staged == nil {
		return orchestrator.Session{}, apperrors.ErrNoStagedFile
	}
	w.stopLocked()
	return w.orch.Start(ctx, w.staged, filter, mode)
}

// Run replaces any current session and processes the staged document to
// completion.
func (w *Workspace) Run(ctx context.Context, filter redaction.EntityTypeFilter, mode redaction.Mode) (*redaction.Outcome, error) {
	w.mu.Lock()
	if w.staged == nil {
		w.mu.Unlock()
		return nil, apperrors.ErrNoStagedFile
	}
	w.stopLocked()
	file := w.staged
	w.mu.Unlock()

	return w.orch.Run(ctx, file, filter, mode)
}

// Wait blocks until the current session, if any, has ended.
func (w *Workspace) Wait(ctx context.Context) error {
	select {
	case <-w.orch.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns the current session snapshot.
func (w *Workspace) Session() orchestrator.Session {
	return w.orch.Session()
}

// Outcome returns the outcome of a completed session, or ErrNoOutcome.
func (w *Workspace) Outcome() (*redaction.Outcome, error) {
	s := w.orch.Session()
	if s.State != orchestrator.StateDone || s.Outcome == nil {
		return nil, apperrors.ErrNoOutcome
	}
	return s.Outcome, nil
}

// Export builds one artifact from the current outcome.
func (w *Workspace) Export(f export.Format) (*export.Artifact, error) {
	o, err := w.Outcome()
	if err != nil {
		return nil, err
	}
	return w.exporter.Build(o, f)
}

// ExportAll builds several artifacts concurrently from the current outcome.
func (w *Workspace) ExportAll(ctx context.Context, formats ...export.Format) ([]export.Result, error) {
	o, err := w.Outcome()
	if err != nil {
		return nil, err
	}
	return w.exporter.BuildAll(ctx, o, formats...)
}

// Cancel aborts the in-flight session without clearing the staged document.
func (w *Workspace) Cancel() bool {
	return w.orch.Cancel()
}

// Clear cancels any session and drops the staged document and outcome.
func (w *Workspace) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	w.staged = nil
}

// Close cancels any in-flight session and waits for it to end.
func (w *Workspace) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.orch.Cancel() {
		<-w.orch.Done()
	}
}

// stopLocked cancels and awaits the current session, then returns the
// orchestrator to a fresh Idle.
func (w *Workspace) stopLocked() {
	if w.orch.Cancel() {
		w.logger.Info("Replacing in-flight session", logging.F("session_id", w.orch.Session().ID))
	}
	<-w.orch.Done()
	if err := w.orch.Reset(); err != nil {
		w.logger.Warn("Failed to reset session", logging.Err(err))
	}
}
