package orchestrator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/redact-cli/client"
	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/intake"
	"github.com/otherjamesbrown/redact-cli/pkg/observability"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

const emailResponse = `{
	"file_name": "notes.txt",
	"risk_score": 15,
	"detected_entities": [{"type": "EMAIL", "value": "a@b.com"}],
	"redacted_text": "Contact [REDACTED_EMAIL]"
}`

// analyzerFunc adapts a function to the Analyzer interface.
type analyzerFunc func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error)

func (f analyzerFunc) Analyze(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
	return f(ctx, req)
}

// recorder collects observed snapshots.
type recorder struct {
	mu    sync.Mutex
	snaps []Session
}

func (r *recorder) observe(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) progress() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.Progress
	}
	return out
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.State
	}
	return out
}

func stageText(t *testing.T, size int) *intake.StagedFile {
	t.Helper()
	staged, err := intake.Stage(intake.Candidate{
		Name:      "notes.txt",
		MediaType: "text/plain",
		Data:      bytes.Repeat([]byte("a"), size),
	})
	require.NoError(t, err)
	return staged
}

func filterOf(t *testing.T, codes ...string) redaction.EntityTypeFilter {
	t.Helper()
	f, err := redaction.NewEntityTypeFilter(codes...)
	require.NoError(t, err)
	return f
}

func TestRun_EndToEnd(t *testing.T) {
	var gotReq client.AnalyzeRequest
	analyzer := analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		gotReq = req
		return []byte(emailResponse), nil
	})

	rec := &recorder{}
	o := New(analyzer, WithObserver(rec.observe))

	outcome, err := o.Run(context.Background(), stageText(t, 2048), filterOf(t, "email", "phone"), redaction.ModeFull)
	require.NoError(t, err)

	assert.Equal(t, []string{"EMAIL", "PHONE"}, gotReq.EnabledTypes)
	assert.Equal(t, "notes.txt", gotReq.FileName)
	assert.Len(t, gotReq.Payload, 2048)

	require.Len(t, outcome.Entities, 1)
	assert.Equal(t, redaction.PIIEntity{
		Category:        "EMAIL",
		OriginalValue:   "a@b.com",
		MaskedValue:     "[REDACTED_EMAIL]",
		Confidence:      0.95,
		OrdinalPosition: 1,
	}, outcome.Entities[0])
	assert.Equal(t, 24, outcome.TokenCountRedacted)
	assert.Equal(t, 34, outcome.TokenCountOriginal)
	assert.Equal(t, int64(2048), outcome.FileSizeBytes)

	s := o.Session()
	assert.Equal(t, StateDone, s.State)
	assert.Equal(t, 100, s.Progress)
	assert.Same(t, outcome, s.Outcome)
	assert.Nil(t, s.Failure)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "Redaction complete: 1 PII entities found", s.Message())

	assert.Equal(t, []int{10, 40, 80, 100}, rec.progress())
	assert.Equal(t, []State{StateUploading, StateAnalyzing, StateRedacting, StateDone}, rec.states())
}

func TestRun_EmptyFilterOmitsTypes(t *testing.T) {
	var gotReq client.AnalyzeRequest
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		gotReq = req
		return []byte(emailResponse), nil
	}))

	_, err := o.Run(context.Background(), stageText(t, 10), redaction.EntityTypeFilter{}, "")
	require.NoError(t, err)
	assert.Empty(t, gotReq.EnabledTypes)
	assert.Equal(t, redaction.DefaultMode, o.Session().Mode)
}

func TestRun_AnalyzerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"internal error"}`))
	}))
	defer srv.Close()

	c, err := client.NewAnalyzerClient(client.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	rec := &recorder{}
	o := New(c, WithObserver(rec.observe))

	outcome, err := o.Run(context.Background(), stageText(t, 100), redaction.AllEnabled(), redaction.ModeFull)
	require.Error(t, err)
	assert.Nil(t, outcome)

	var aerr *apperrors.AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 500, aerr.StatusCode)
	assert.Equal(t, "internal error", aerr.Detail)

	s := o.Session()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 0, s.Progress)
	require.NotNil(t, s.Failure)
	assert.Equal(t, apperrors.CodeAnalyzerFailed, s.Failure.Code)
	assert.Equal(t, "internal error", s.Failure.Message)
	assert.Equal(t, StateAnalyzing, s.Failure.State)

	assert.Equal(t, []int{10, 40, 0}, rec.progress())
}

func TestRun_MalformedResponse(t *testing.T) {
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		return []byte(`{"detected_entities":[]}`), nil
	}))

	_, err := o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeMask)
	require.Error(t, err)
	assert.True(t, apperrors.IsMalformed(err))

	s := o.Session()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 0, s.Progress)
	assert.Equal(t, StateRedacting, s.Failure.State)
	assert.Equal(t, "Failed to analyze file", s.Failure.Message)
}

func TestRun_NoStagedFile(t *testing.T) {
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		t.Fatal("analyzer must not be called")
		return nil, nil
	}))
	_, err := o.Run(context.Background(), nil, redaction.AllEnabled(), redaction.ModeFull)
	assert.ErrorIs(t, err, apperrors.ErrNoStagedFile)
	assert.Equal(t, StateIdle, o.Session().State)
}

func TestRun_BusyWhileInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce sync.Once
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		enterOnce.Do(func() { close(entered) })
		<-release
		return []byte(emailResponse), nil
	}))

	errc := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
		errc <- err
	}()
	<-entered

	_, err := o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)
	assert.True(t, apperrors.IsInvalidState(err))
	assert.ErrorIs(t, o.Reset(), apperrors.ErrSessionBusy)

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, StateDone, o.Session().State)

	// A finished session may be replaced by a new run.
	_, err = o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
	assert.NoError(t, err)
}

func TestRun_CancelDiscardsLateResponse(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		close(entered)
		<-release
		// Ignores ctx and answers successfully after the user walked away.
		return []byte(emailResponse), nil
	}))

	rec := &recorder{}
	o.Subscribe(rec.observe)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
		errc <- err
	}()
	<-entered

	assert.True(t, o.Cancel())
	close(release)

	err := <-errc
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, apperrors.CodeCancelled, apperrors.Classify(err))

	<-o.Done()
	s := o.Session()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 0, s.Progress)
	assert.Nil(t, s.Outcome)
	assert.Equal(t, apperrors.CodeCancelled, s.Failure.Code)
	assert.Equal(t, []int{10, 40, 0}, rec.progress())
	assert.False(t, o.Cancel())
}

func TestStart_RunsInBackground(t *testing.T) {
	release := make(chan struct{})
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		<-release
		return []byte(emailResponse), nil
	}))

	snap, err := o.Start(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeMask)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "notes.txt", snap.FileName)
	assert.Equal(t, redaction.ModeMask, snap.Mode)

	_, err = o.Start(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeMask)
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)
	assert.ErrorIs(t, o.Reset(), apperrors.ErrSessionBusy)

	close(release)
	<-o.Done()

	s := o.Session()
	assert.Equal(t, snap.ID, s.ID)
	assert.Equal(t, StateDone, s.State)
	require.NotNil(t, s.Outcome)
	assert.Equal(t, 1, s.Outcome.EntityCount())
}

func TestStart_NoStagedFile(t *testing.T) {
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		return nil, nil
	}))
	_, err := o.Start(context.Background(), nil, redaction.AllEnabled(), "")
	assert.ErrorIs(t, err, apperrors.ErrNoStagedFile)
}

func TestRun_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := o.Run(ctx, stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, o.Session().State)
}

func TestRun_ProgressNonDecreasing(t *testing.T) {
	rec := &recorder{}
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		return []byte(emailResponse), nil
	}), WithObserver(rec.observe))

	for i := 0; i < 3; i++ {
		_, err := o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
		require.NoError(t, err)

		p := rec.progress()
		last := p[len(p)-4:]
		for j := 1; j < len(last); j++ {
			assert.GreaterOrEqual(t, last[j], last[j-1])
		}
	}
}

func TestRun_ProcessingDuration(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 500 * time.Millisecond)
	}

	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		return []byte(emailResponse), nil
	}), WithClock(clock))

	outcome, err := o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
	require.NoError(t, err)
	assert.Greater(t, outcome.ProcessingDurationSeconds, 0.0)
}

func TestRun_Metrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		return []byte(emailResponse), nil
	}), WithMetrics(m))

	_, err := o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("done", "full")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EntitiesDetectedTotal.WithLabelValues("EMAIL")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SessionsInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("done")))
}

func TestReset(t *testing.T) {
	o := New(analyzerFunc(func(ctx context.Context, req client.AnalyzeRequest) ([]byte, error) {
		return []byte(emailResponse), nil
	}))
	_, err := o.Run(context.Background(), stageText(t, 10), redaction.AllEnabled(), redaction.ModeFull)
	require.NoError(t, err)

	require.NoError(t, o.Reset())
	s := o.Session()
	assert.Equal(t, StateIdle, s.State)
	assert.Nil(t, s.Outcome)
	assert.Empty(t, s.ID)
}

func TestState(t *testing.T) {
	tests := []struct {
		state    State
		progress int
		label    string
		inFlight bool
	}{
		{StateIdle, 0, "Ready", false},
		{StateUploading, 10, "Uploading securely...", true},
		{StateAnalyzing, 40, "AI analysis in progress...", true},
		{StateRedacting, 80, "Applying redactions...", true},
		{StateDone, 100, "Processing complete", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.progress, tt.state.Progress())
			assert.Equal(t, tt.label, tt.state.Label())
			assert.Equal(t, tt.inFlight, tt.state.InFlight())
		})
	}
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "", FailureMessage(nil))
	assert.Equal(t, "Uploaded file is empty.", FailureMessage(&apperrors.AnalysisError{StatusCode: 400, Detail: "Uploaded file is empty."}))
	assert.Equal(t, "Analysis Service is unreachable", FailureMessage(&apperrors.AnalysisError{Detail: "dial tcp"}))
	assert.Equal(t, "Processing cancelled", FailureMessage(context.Canceled))
	assert.Equal(t, "Failed to analyze file", FailureMessage(&apperrors.MalformedResponseError{Field: "redacted_text"}))
}
