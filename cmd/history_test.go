package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/redact-cli/config"
	"github.com/otherjamesbrown/redact-cli/pkg/db"
	"github.com/otherjamesbrown/redact-cli/pkg/history"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
)

var historyNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type historyEnv struct {
	deps  *HistoryCommandDeps
	cfg   *config.CLIConfig
	store *fakeStore
	out   *bytes.Buffer
}

func newHistoryEnv(t *testing.T) *historyEnv {
	t.Helper()
	env := &historyEnv{
		cfg:   mockScanConfig(),
		store: &fakeStore{},
		out:   &bytes.Buffer{},
	}
	env.cfg.History.DatabaseURL = "postgres://localhost/redact"
	env.deps = &HistoryCommandDeps{
		LoadConfig: func() (*config.CLIConfig, error) { return env.cfg, nil },
		NewLogger:  func(*config.CLIConfig) logging.Logger { return logging.NewNopLogger() },
		ConnectHistory: func(context.Context, *config.CLIConfig, logging.Logger) (HistoryStore, func(), error) {
			if !env.cfg.History.IsConfigured() {
				return nil, nil, errHistoryNotConfigured
			}
			return env.store, func() {}, nil
		},
		MigrationStatus: func(context.Context, *config.CLIConfig) ([]db.MigrationStatusEntry, error) {
			applied := historyNow.Add(-time.Hour)
			return []db.MigrationStatusEntry{
				{Version: "001", AppliedAt: &applied},
				{Version: "002"},
			}, nil
		},
		Out: env.out,
		Now: func() time.Time { return historyNow },
	}
	return env
}

func (e *historyEnv) run(args ...string) error {
	cmd := NewHistoryCommand(e.deps)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.ExecuteContext(context.Background())
}

func sampleRuns() []*history.Run {
	return []*history.Run{
		{
			SessionID: "s-2", FileName: "contract.pdf", Mode: "full",
			Status: history.StatusCompleted, RiskScore: 42, RiskLevel: "High",
			EntityCount: 7, ProcessingSeconds: 1.5, CreatedAt: historyNow,
		},
		{
			SessionID: "s-1", FileName: "notes.txt", Mode: "mask",
			Status: history.StatusFailed, FailureCode: "analyzer_unreachable",
			CreatedAt: historyNow.Add(-time.Hour),
		},
	}
}

func TestNewHistoryCommand(t *testing.T) {
	cmd := NewHistoryCommand(nil)
	assert.Equal(t, "history", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "purge", "migrations"}, names)
}

func TestHistoryList_Text(t *testing.T) {
	env := newHistoryEnv(t)
	env.store.runs = sampleRuns()

	require.NoError(t, env.run("list"))

	out := env.out.String()
	assert.Contains(t, out, "WHEN")
	assert.Contains(t, out, "contract.pdf")
	assert.Contains(t, out, "High (42)")
	assert.Contains(t, out, "failed: analyzer_unreachable")
	assert.Equal(t, 20, env.store.filter.Limit)
}

func TestHistoryList_Empty(t *testing.T) {
	env := newHistoryEnv(t)
	require.NoError(t, env.run("list"))
	assert.Contains(t, env.out.String(), "No runs recorded.")
}

func TestHistoryList_JSON(t *testing.T) {
	env := newHistoryEnv(t)
	env.store.runs = sampleRuns()

	require.NoError(t, env.run("list", "-o", "json"))

	var runs []history.Run
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "s-2", runs[0].SessionID)
}

func TestHistoryList_Filters(t *testing.T) {
	env := newHistoryEnv(t)

	require.NoError(t, env.run("list", "--status", "FAILED", "--risk", "high", "--search", " memo ", "--limit", "5", "--since", "24h"))

	f := env.store.filter
	require.NotNil(t, f.Status)
	assert.Equal(t, history.StatusFailed, *f.Status)
	assert.Equal(t, "High", f.RiskLevel)
	assert.Equal(t, "memo", f.NameSearch)
	assert.Equal(t, 5, f.Limit)
	require.NotNil(t, f.Since)
	assert.Equal(t, historyNow.Add(-24*time.Hour), *f.Since)
}

func TestHistoryList_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"status", []string{"list", "--status", "running"}},
		{"risk", []string{"list", "--risk", "severe"}},
		{"limit", []string{"list", "--limit", "0"}},
		{"since", []string{"list", "--since=-1h"}},
		{"output", []string{"list", "-o", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHistoryEnv(t)
			assert.Error(t, env.run(tt.args...))
		})
	}
}

func TestHistoryList_NotConfigured(t *testing.T) {
	env := newHistoryEnv(t)
	env.cfg.History.DatabaseURL = ""

	err := env.run("list")
	assert.ErrorIs(t, err, errHistoryNotConfigured)
}

func TestHistoryList_StoreError(t *testing.T) {
	env := newHistoryEnv(t)
	env.store.err = errors.New("relation does not exist")

	err := env.run("list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing runs")
}

func TestHistoryPurge(t *testing.T) {
	env := newHistoryEnv(t)
	env.store.purged = 3

	require.NoError(t, env.run("purge", "--older-than", "720h"))

	assert.Equal(t, historyNow.Add(-720*time.Hour), env.store.cutoff)
	assert.Contains(t, env.out.String(), "Deleted 3 run(s)")
}

func TestHistoryPurge_RequiresAge(t *testing.T) {
	env := newHistoryEnv(t)
	assert.Error(t, env.run("purge"))
	assert.True(t, env.store.cutoff.IsZero())
}

func TestHistoryMigrations(t *testing.T) {
	env := newHistoryEnv(t)

	require.NoError(t, env.run("migrations"))

	out := env.out.String()
	assert.Contains(t, out, "001  applied")
	assert.Contains(t, out, "002  pending")
}

func TestMigrationStatus_NotConfigured(t *testing.T) {
	_, err := migrationStatus(context.Background(), config.DefaultConfig())
	assert.ErrorIs(t, err, errHistoryNotConfigured)
}
