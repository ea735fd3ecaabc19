package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flux/internal/config"
	"flux/internal/fault"
	"flux/internal/logging"
)

func TestNewFromConfigWritesRotatingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, closer, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("file message", logging.String("k", "v"), logging.Duration("took", 1500*time.Millisecond))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "flux.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", content, err)
	}
	if entry[logging.KeyMessage] != "file message" || entry["k"] != "v" || entry[logging.KeyLevel] != "info" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["took"] != 1.5 {
		t.Fatalf("expected duration in seconds, got %v", entry["took"])
	}
	if _, ok := entry[logging.KeyTime].(string); !ok {
		t.Fatalf("expected %q timestamp, got %v", logging.KeyTime, entry)
	}
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Format: "console", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "vault").Info("blob stored", logging.Int64("bytes", 42), logging.String("note", "two words"))

	line := buf.String()
	for _, fragment := range []string{"INFO", "vault: blob stored", "bytes=42", `note="two words"`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestComponentOverrideLowersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{
		Level:           "warn",
		Console:         &buf,
		ComponentLevels: map[string]string{"trim": "debug"},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "trim").Debug("engine resolved")
	logging.NewComponentLogger(logger, "vault").Info("suppressed")
	logger.Info("also suppressed")

	out := buf.String()
	if !strings.Contains(out, "engine resolved") {
		t.Fatalf("expected trim debug output, got %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Fatalf("expected info lines below warn to be dropped, got %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Format: "json", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "trim skipped", "trim_fallback", logging.String(logging.FieldImpact, "full recording saved"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "trim_fallback" {
		t.Fatalf("missing event type: %v", entry)
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatalf("missing default error hint: %v", entry)
	}
	if entry[logging.FieldImpact] != "full recording saved" {
		t.Fatalf("impact overridden: %v", entry)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Format: "json", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := fault.WithRecordingID(context.Background(), "abc")
	ctx = fault.WithPhase(ctx, "viewing")
	ctx = fault.WithRequestID(ctx, "req-xyz")
	logging.WithContext(ctx, logger).Info("contextual log")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		logging.FieldRecordingID:   "abc",
		logging.FieldPhase:         "viewing",
		logging.FieldCorrelationID: "req-xyz",
	}
	for key, value := range want {
		if entry[key] != value {
			t.Fatalf("field %s = %v, want %q", key, entry[key], value)
		}
	}
}
