package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func syncLogger(t testing.TB, logger *Logger) {
	t.Helper()
	// Syncing stdout returns "invalid argument" on Linux.
	if err := logger.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
		t.Logf("Sync() warning: %v", err)
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "gateway.log")

	logger, err := NewLogger(false, logPath)
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	if logger.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
	if logger.LogFilePath() != logPath {
		t.Errorf("LogFilePath() = %q, want %q", logger.LogFilePath(), logPath)
	}

	logger.Info("backend selected", zap.Int("server", 1))
	syncLogger(t, logger)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "backend selected") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestNewLogger_RequiresPath(t *testing.T) {
	if _, err := NewLogger(true, ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLogger_RedactsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromCore(core)

	logger.Info("call failed",
		zap.String("OPENAI_API_KEY", "sk-abcdefghijklmnopqrstuvwxyz"),
		zap.String("detail", "Post http://192.168.1.20:7860/sdapi/v1/img2img: EOF"),
		zap.Error(errors.New("dial https://sd.internal:7860/x refused")),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["OPENAI_API_KEY"] != RedactedPlaceholder {
		t.Errorf("api key not redacted: %v", ctx["OPENAI_API_KEY"])
	}
	if detail := ctx["detail"].(string); strings.Contains(detail, "192.168") {
		t.Errorf("host leaked in detail: %q", detail)
	}
	if e := ctx["error"].(string); strings.Contains(e, "sd.internal") {
		t.Errorf("host leaked in error: %q", e)
	}
}

func TestLogger_SugaredRedaction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLoggerFromCore(core).Named("backend")

	logger.Warnw("retrying", "url", "http://127.0.0.1:7860/sdapi/v1/options", "admin_token", "hunter2")

	entry := logs.All()[0]
	if entry.LoggerName != "backend" {
		t.Errorf("LoggerName = %q, want backend", entry.LoggerName)
	}
	ctx := entry.ContextMap()
	if ctx["url"] != "http://***/sdapi/v1/options" {
		t.Errorf("url = %v", ctx["url"])
	}
	if ctx["admin_token"] != RedactedPlaceholder {
		t.Errorf("admin_token = %v", ctx["admin_token"])
	}
}

func TestLogger_WithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLoggerFromCore(core).With(zap.String("request_id", "abc123"))

	logger.Info("one")
	logger.Info("two")

	for _, e := range logs.All() {
		if e.ContextMap()["request_id"] != "abc123" {
			t.Errorf("entry %q missing request_id", e.Message)
		}
	}
}

func TestNewMultiCoreWithWriters(t *testing.T) {
	var console, file bytes.Buffer
	core := NewMultiCoreWithWriters(zapcore.InfoLevel, zapcore.AddSync(&console), zapcore.AddSync(&file), true)

	zap.New(core).Info("hello", zap.String("k", "v"))

	if console.Len() == 0 {
		t.Fatal("console output empty")
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(file.Bytes()), &entry); err != nil {
		t.Fatalf("file output is not JSON: %v", err)
	}
	if entry[FieldMessage] != "hello" {
		t.Errorf("%s = %v, want hello", FieldMessage, entry[FieldMessage])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   DebugLevel,
		"WARNING": WarnLevel,
		" error ": ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in, InfoLevel); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
