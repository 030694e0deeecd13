// Package orchestrator drives one staged document through upload, analysis
// and normalization. A single Orchestrator owns a single session at a time.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/redact-cli/client"
	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/intake"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/normalize"
	"github.com/otherjamesbrown/redact-cli/pkg/observability"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// Analyzer submits a document to the Analysis Service and returns the raw
// success body. *client.AnalyzerClient implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req client.AnalyzeRequest) ([]byte, error)
}

// Observer receives every session snapshot, synchronously and in order.
type Observer func(Session)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.With(logging.F("component", "orchestrator")) }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer overrides the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithObserver registers an observer at construction.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// Orchestrator is the session state machine:
//
//	Idle -> Uploading(10) -> Analyzing(40) -> Redacting(80) -> Done(100)
//
// Any in-flight state may fall back to Idle(0) with a Failure.
type Orchestrator struct {
	analyzer Analyzer
	logger   logging.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	now      func() time.Time

	mu        sync.Mutex
	session   Session
	cancel    context.CancelFunc
	finished  chan struct{}
	observers []Observer
}

// New creates an Orchestrator in Idle.
func New(analyzer Analyzer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		analyzer: analyzer,
		logger:   logging.NewNopLogger(),
		tracer:   observability.NewTracer(),
		now:      time.Now,
		session:  Session{State: StateIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	closed := make(chan struct{})
	close(closed)
	o.finished = closed
	return o
}

// Subscribe registers an observer for all later transitions.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// Session returns the current snapshot.
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Cancel aborts the in-flight run, if any. The run itself performs the
// transition to Idle; use Done to wait for it. Returns false when nothing
// was in flight.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Done returns a channel closed when the current run (or none) has ended.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished
}

// Reset discards a terminal session and returns to a fresh Idle. It fails
// with ErrSessionBusy while a run is in flight.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	if o.session.State.InFlight() || o.cancel != nil {
		o.mu.Unlock()
		return apperrors.ErrSessionBusy
	}
	o.session = Session{State: StateIdle, UpdatedAt: o.now()}
	snap := o.session
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
	return nil
}

// run carries the state of one registered session between begin and execute.
type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	id       string
	started  time.Time
	file     *intake.StagedFile
	filter   redaction.EntityTypeFilter
	mode     redaction.Mode
}

// Run processes file exactly once. The filter is translated to analyzer
// codes; an empty filter omits enabled_types so the analyzer default
// applies. It fails with ErrSessionBusy if a run is already in flight.
func (o *Orchestrator) Run(ctx context.Context, file *intake.StagedFile, filter redaction.EntityTypeFilter, mode redaction.Mode) (*redaction.Outcome, error) {
	r, _, err := o.begin(ctx, file, filter, mode)
	if err != nil {
		return nil, err
	}
	return o.execute(r)
}

// Start registers a session like Run and processes it on a new goroutine.
// It returns the registered snapshot; observers and Done report the rest.
func (o *Orchestrator) Start(ctx context.Context, file *intake.StagedFile, filter redaction.EntityTypeFilter, mode redaction.Mode) (Session, error) {
	r, snap, err := o.begin(ctx, file, filter, mode)
	if err != nil {
		return Session{}, err
	}
	go o.execute(r) //nolint:errcheck // the failure is recorded on the session
	return snap, nil
}

// begin claims the orchestrator for a new session.
func (o *Orchestrator) begin(ctx context.Context, file *intake.StagedFile, filter redaction.EntityTypeFilter, mode redaction.Mode) (*run, Session, error) {
	if file == nil {
		return nil, Session{}, apperrors.ErrNoStagedFile
	}
	if mode == "" {
		mode = redaction.DefaultMode
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session.State.InFlight() || o.cancel != nil {
		return nil, Session{}, apperrors.ErrSessionBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:      runCtx,
		cancel:   cancel,
		finished: make(chan struct{}),
		id:       uuid.NewString(),
		started:  o.now(),
		file:     file,
		filter:   filter,
		mode:     mode,
	}
	o.cancel = cancel
	o.finished = r.finished
	o.session = Session{
		ID:              r.id,
		State:           StateIdle,
		StartedAt:       r.started,
		UpdatedAt:       r.started,
		FileName:        file.Name,
		MediaType:       file.MediaType,
		FileSize:        file.Size,
		FileFingerprint: file.Fingerprint,
		Mode:            mode,
		EnabledTypes:    filter.AnalyzerCodes(),
	}
	return r, o.session, nil
}

// execute drives a registered session to Done or back to Idle.
func (o *Orchestrator) execute(r *run) (*redaction.Outcome, error) {
	defer func() {
		r.cancel()
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		close(r.finished)
	}()

	file, mode, started, sessionID := r.file, r.mode, r.started, r.id
	runCtx := logging.ContextWithSessionID(r.ctx, sessionID)
	log := o.logger.WithContext(runCtx)

	runCtx, span := o.tracer.StartSessionSpan(runCtx, sessionID, file.Name, file.MediaType, file.Size, string(mode))
	defer span.End()
	spans := observability.NewSpanHelper(span)

	if o.metrics != nil {
		o.metrics.RecordSessionStart(file.Size)
	}

	// Idle -> Uploading: build the request.
	o.advance(spans, StateUploading)
	req := client.AnalyzeRequest{
		FileName:     file.Name,
		MediaType:    file.MediaType,
		Payload:      file.Data,
		EnabledTypes: r.filter.AnalyzerCodes(),
	}

	log.Info("Session started",
		logging.F("file", file.Name),
		logging.F("bytes", file.Size),
		logging.F("mode", string(mode)))

	// Uploading -> Analyzing: one submission, no retry.
	o.advance(spans, StateAnalyzing)
	raw, err := o.analyzer.Analyze(runCtx, req)
	elapsed := o.now().Sub(started).Seconds()

	// A response that arrives after cancellation is discarded.
	if ctxErr := runCtx.Err(); ctxErr != nil {
		return nil, o.fail(log, spans, fmt.Errorf("session %s: %w", sessionID, ctxErr))
	}
	if err != nil {
		return nil, o.fail(log, spans, err)
	}

	// Analyzing -> Redacting: normalize.
	o.advance(spans, StateRedacting)
	_, nspan := o.tracer.StartNormalizeSpan(runCtx)
	outcome, err := normalize.Normalize(raw, normalize.Input{
		Mode:             mode,
		ElapsedSeconds:   elapsed,
		OriginalByteSize: file.Size,
		FallbackName:     file.Name,
	})
	nspan.End()
	if err != nil {
		return nil, o.fail(log, spans, err)
	}
	if ctxErr := runCtx.Err(); ctxErr != nil {
		return nil, o.fail(log, spans, fmt.Errorf("session %s: %w", sessionID, ctxErr))
	}

	// Redacting -> Done.
	o.transition(spans, func(s *Session) {
		s.State = StateDone
		s.Progress = StateDone.Progress()
		s.Outcome = outcome
	})
	spans.SetOutcome(outcome.EntityCount(), outcome.RiskScore)
	spans.SetOK()
	if o.metrics != nil {
		o.metrics.RecordOutcome(outcome.EntityCountsByCategory, outcome.RiskScore)
		o.metrics.RecordSessionEnd(string(StateDone), string(mode), o.now().Sub(started).Seconds())
	}

	log.Info("Session complete",
		logging.F("entities", outcome.EntityCount()),
		logging.F("risk_score", outcome.RiskScore),
		logging.F("risk_level", string(outcome.EffectiveRiskLevel())),
		logging.F("processing_time", outcome.ProcessingTime()))

	return outcome, nil
}

// advance moves to an in-flight state with its checkpoint progress.
func (o *Orchestrator) advance(spans *observability.SpanHelper, state State) {
	o.transition(spans, func(s *Session) {
		s.State = state
		s.Progress = state.Progress()
	})
}

// fail returns the session to Idle with progress 0 and the classified reason.
func (o *Orchestrator) fail(log logging.Logger, spans *observability.SpanHelper, err error) error {
	code := apperrors.Classify(err)
	var from State
	o.transition(spans, func(s *Session) {
		from = s.State
		s.State = StateIdle
		s.Progress = 0
		s.Outcome = nil
		s.Failure = &Failure{
			Code:    code,
			Message: FailureMessage(err),
			State:   from,
			Err:     err,
		}
	})
	spans.RecordError(err, string(code))

	if o.metrics != nil {
		o.metrics.RecordFailure(string(code))
		snap := o.Session()
		o.metrics.RecordSessionEnd("failed", string(snap.Mode), snap.Elapsed().Seconds())
	}

	log.Warn("Session failed",
		logging.F("from_state", string(from)),
		logging.F("code", string(code)),
		logging.Err(err))
	return err
}

// transition applies mutate to a copy of the current snapshot, publishes
// the copy, and notifies observers outside the lock. Transitions only ever
// happen on the goroutine executing Run.
func (o *Orchestrator) transition(spans *observability.SpanHelper, mutate func(*Session)) {
	o.mu.Lock()
	prev := o.session
	next := prev
	next.EnabledTypes = append([]string(nil), prev.EnabledTypes...)
	mutate(&next)
	next.UpdatedAt = o.now()
	o.session = next
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	if next.State == prev.State && next.Progress == prev.Progress {
		return
	}

	spans.SetState(string(next.State))
	if o.metrics != nil {
		o.metrics.RecordTransition(string(next.State))
	}
	for _, obs := range observers {
		obs(next)
	}
}
