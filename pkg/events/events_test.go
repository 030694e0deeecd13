package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

func TestBaseEvent(t *testing.T) {
	event := NewBaseEvent(TypeTransition, "sess-1")

	if event.EventType != TypeTransition {
		t.Errorf("unexpected event type: %s", event.EventType)
	}
	if event.SessionID != "sess-1" {
		t.Errorf("unexpected session id: %s", event.SessionID)
	}
	if event.Source != "redact" {
		t.Errorf("unexpected source: %s", event.Source)
	}
	if event.Version != "1.0" {
		t.Errorf("unexpected version: %s", event.Version)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}

func doneSession() orchestrator.Session {
	return orchestrator.Session{
		ID:              "sess-done",
		State:           orchestrator.StateDone,
		Progress:        100,
		FileName:        "customers.csv",
		FileFingerprint: "abc123",
		Outcome: &redaction.Outcome{
			FileName:      "customers.csv",
			FileSizeBytes: 2048,
			Entities: []redaction.PIIEntity{
				{Category: "EMAIL", OriginalValue: "a@b.com", MaskedValue: "[REDACTED_EMAIL]", Confidence: 0.95, OrdinalPosition: 1},
			},
			RiskScore:                 30,
			EntityCountsByCategory:    map[string]int{"EMAIL": 1},
			RedactedText:              "Contact [REDACTED_EMAIL]",
			TokenCountOriginal:        34,
			TokenCountRedacted:        24,
			ProcessingDurationSeconds: 1.5,
			Mode:                      redaction.ModeMask,
		},
	}
}

func TestFromSession(t *testing.T) {
	tests := []struct {
		name     string
		session  orchestrator.Session
		channels []string
	}{
		{
			name:     "no session id",
			session:  orchestrator.Session{State: orchestrator.StateIdle},
			channels: nil,
		},
		{
			name:     "in flight",
			session:  orchestrator.Session{ID: "s", State: orchestrator.StateAnalyzing, Progress: 40},
			channels: []string{ChannelTransition},
		},
		{
			name:     "done",
			session:  doneSession(),
			channels: []string{ChannelTransition, ChannelCompleted},
		},
		{
			name: "failed",
			session: orchestrator.Session{
				ID:    "s",
				State: orchestrator.StateIdle,
				Failure: &orchestrator.Failure{
					Code:    apperrors.CodeAnalyzerUnreachable,
					Message: "Analysis Service is unreachable",
					State:   orchestrator.StateAnalyzing,
				},
			},
			channels: []string{ChannelTransition, ChannelFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, env := range FromSession(tt.session) {
				got = append(got, env.Channel)
			}
			assert.Equal(t, tt.channels, got)
		})
	}
}

func TestCompletedEventCarriesNoOriginalValues(t *testing.T) {
	envs := FromSession(doneSession())
	require.Len(t, envs, 2)

	completed, ok := envs[1].Event.(CompletedEvent)
	require.True(t, ok)
	assert.Equal(t, 1, completed.EntityCount)
	assert.Equal(t, "High", completed.RiskLevel)
	assert.Equal(t, 34, completed.TokensOriginal)
	assert.Equal(t, 24, completed.TokensRedacted)

	data, err := json.Marshal(completed)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "a@b.com")
	assert.NotContains(t, string(data), "Contact")
}

func TestFailedEvent(t *testing.T) {
	envs := FromSession(orchestrator.Session{
		ID:       "s",
		State:    orchestrator.StateIdle,
		FileName: "x.txt",
		Failure: &orchestrator.Failure{
			Code:    apperrors.CodeAnalyzerUnreachable,
			Message: "Analysis Service is unreachable",
			State:   orchestrator.StateAnalyzing,
		},
	})
	require.Len(t, envs, 2)

	failed, ok := envs[1].Event.(FailedEvent)
	require.True(t, ok)
	assert.Equal(t, "analyzing", failed.FailedFrom)
	assert.Equal(t, string(apperrors.CodeAnalyzerUnreachable), failed.Code)
	assert.Equal(t, "x.txt", failed.FileName)
}

type fakeSender struct {
	mu       sync.Mutex
	channels []string
	err      error
	block    chan struct{}
}

func (f *fakeSender) Publish(ctx context.Context, channel string, event any) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return f.err
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.channels...)
}

func TestAsyncPublisherFlush(t *testing.T) {
	sender := &fakeSender{}
	p := NewAsyncPublisher(sender, DefaultAsyncConfig(), logging.NewNopLogger())
	defer p.Close()

	p.Observe(orchestrator.Session{ID: "s", State: orchestrator.StateUploading, Progress: 10})
	p.Observe(doneSession())
	p.Flush()

	assert.Equal(t, []string{ChannelTransition, ChannelTransition, ChannelCompleted}, sender.sent())
}

func TestAsyncPublisherCloseDrains(t *testing.T) {
	sender := &fakeSender{}
	p := NewAsyncPublisher(sender, DefaultAsyncConfig(), nil)

	for i := 0; i < 10; i++ {
		assert.True(t, p.Enqueue(Envelope{Channel: ChannelTransition}))
	}
	require.NoError(t, p.Close())
	assert.Len(t, sender.sent(), 10)

	assert.False(t, p.Enqueue(Envelope{Channel: ChannelTransition}), "enqueue after close")
	require.NoError(t, p.Close(), "second close")
	p.Flush()
}

func TestAsyncPublisherDropsWhenFull(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	p := NewAsyncPublisher(sender, AsyncConfig{BufferSize: 1, SendTimeout: time.Second}, nil)

	accepted := 0
	for i := 0; i < 5; i++ {
		if p.Enqueue(Envelope{Channel: ChannelTransition}) {
			accepted++
		}
	}
	assert.Greater(t, p.Dropped(), 0)
	assert.Equal(t, 5, accepted+p.Dropped())

	close(sender.block)
	require.NoError(t, p.Close())
	assert.Len(t, sender.sent(), accepted)
}

func TestAsyncPublisherSurvivesSendErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	p := NewAsyncPublisher(sender, DefaultAsyncConfig(), nil)
	defer p.Close()

	p.Enqueue(Envelope{Channel: ChannelFailed})
	p.Enqueue(Envelope{Channel: ChannelCompleted})
	p.Flush()

	assert.Equal(t, []string{ChannelFailed, ChannelCompleted}, sender.sent())
}

func TestPublisherRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	pub, err := NewPublisherFromConfig(PublisherConfig{Addr: addr}, logging.NewNopLogger())
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := pub.Client().Subscribe(ctx, ChannelCompleted)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	envs := FromSession(doneSession())
	require.NoError(t, pub.Publish(ctx, envs[1].Channel, envs[1].Event))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got CompletedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "sess-done", got.SessionID)
	assert.Equal(t, TypeCompleted, got.EventType)
}

func TestNewPublisherFromConfigUnreachable(t *testing.T) {
	if os.Getenv("TEST_REDIS_ADDR") == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	_, err := NewPublisherFromConfig(PublisherConfig{Addr: "127.0.0.1:1"}, logging.NewNopLogger())
	assert.Error(t, err)
}

var _ Sender = (*Publisher)(nil)
