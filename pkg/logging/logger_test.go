package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level to be info, got %s", cfg.Level)
	}
	if cfg.ServiceName != "redact" {
		t.Errorf("expected default service name to be 'redact', got %s", cfg.ServiceName)
	}
	if cfg.JSONFormat {
		t.Error("expected default JSONFormat to be false")
	}
}

func TestNewLogger_NilConfig(t *testing.T) {
	if log := NewLogger(nil); log == nil {
		t.Error("expected non-nil logger with nil config")
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var output map[string]interface{}
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &output); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", line, err)
	}
	return output
}

func TestLogger_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{
		Level:       LevelDebug,
		ServiceName: "test-service",
		JSONFormat:  true,
		Output:      buf,
	})

	log.Info("scan complete",
		F("entities", 3),
		F("file", "notes.txt"),
		F("elapsed", 1500*time.Millisecond),
		F("done", true))

	output := decodeLine(t, buf)
	if output["message"] != "scan complete" {
		t.Errorf("expected message 'scan complete', got %v", output["message"])
	}
	if output["service_name"] != "test-service" {
		t.Errorf("expected service_name 'test-service', got %v", output["service_name"])
	}
	if output["entities"] != float64(3) {
		t.Errorf("expected entities 3, got %v", output["entities"])
	}
	if output["file"] != "notes.txt" {
		t.Errorf("expected file 'notes.txt', got %v", output["file"])
	}
	if output["done"] != true {
		t.Errorf("expected done true, got %v", output["done"])
	}
	if _, ok := output["time"]; !ok {
		t.Error("expected timestamp field 'time' in output")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelWarn, JSONFormat: true, Output: buf})

	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn message in output, got %q", buf.String())
	}
}

func TestLogger_ErrorField(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelDebug, JSONFormat: true, Output: buf})

	log.Error("analysis failed", Err(errors.New("HTTP 500")))

	output := decodeLine(t, buf)
	if output["error"] != "HTTP 500" {
		t.Errorf("expected error 'HTTP 500', got %v", output["error"])
	}
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelDebug, JSONFormat: true, Output: buf}).
		With(F("component", "orchestrator"))

	log.Info("transition")

	output := decodeLine(t, buf)
	if output["component"] != "orchestrator" {
		t.Errorf("expected component 'orchestrator', got %v", output["component"])
	}
}

func TestLogger_WithContext(t *testing.T) {
	buf := &bytes.Buffer{}
	base := NewLogger(&Config{Level: LevelDebug, JSONFormat: true, Output: buf})

	ctx := ContextWithSessionID(context.Background(), "sess-1")
	ctx = context.WithValue(ctx, RequestIDKey, "req-9")
	base.WithContext(ctx).Info("hello")

	output := decodeLine(t, buf)
	if output["session_id"] != "sess-1" {
		t.Errorf("expected session_id 'sess-1', got %v", output["session_id"])
	}
	if output["request_id"] != "req-9" {
		t.Errorf("expected request_id 'req-9', got %v", output["request_id"])
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelInfo, JSONFormat: false, Output: buf})

	log.Info("human readable", F("mode", "mask"))

	out := buf.String()
	if !strings.Contains(out, "human readable") {
		t.Errorf("expected message in console output, got %q", out)
	}
	if !strings.Contains(out, "mode=") {
		t.Errorf("expected field in console output, got %q", out)
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.Info("discarded")
	log.With(F("k", "v")).WithContext(context.Background()).Error("discarded")
}
