package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewStructuredLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  slog.LevelInfo,
		Format: FormatJSON,
		Output: &buf,
	}

	logger := NewStructuredLogger(cfg)
	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["msg"] != "test message" {
		t.Errorf("expected msg 'test message', got %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected key 'value', got %v", entry["key"])
	}
}

func TestNewStructuredLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:     slog.LevelInfo,
		Format:    FormatJSON,
		Output:    &buf,
		Component: "dispatch",
	}

	logger := NewStructuredLogger(cfg)
	logger.Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["component"] != "dispatch" {
		t.Errorf("expected component 'dispatch', got %v", entry["component"])
	}
}

func TestNewStructuredLogger_Redacts(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  slog.LevelInfo,
		Format: FormatJSON,
		Output: &buf,
		Redact: true,
	}

	logger := NewStructuredLogger(cfg)
	logger.Info("connecting", "header", "Bearer sk-secret-value")

	if bytes.Contains(buf.Bytes(), []byte("sk-secret-value")) {
		t.Errorf("expected secret redacted, got %s", buf.String())
	}
}

func TestNewStructuredLogger_Buffer(t *testing.T) {
	logBuf := NewLogBuffer(10)
	var buf bytes.Buffer
	cfg := Config{
		Level:  slog.LevelInfo,
		Format: FormatJSON,
		Output: &buf,
		Buffer: logBuf,
	}

	logger := NewStructuredLogger(cfg)
	logger.Info("buffered message")

	if logBuf.Count() != 1 {
		t.Fatalf("expected 1 buffered entry, got %d", logBuf.Count())
	}
	if got := logBuf.GetRecent(1)[0].Message; got != "buffered message" {
		t.Errorf("expected buffered message, got %q", got)
	}
	if buf.Len() == 0 {
		t.Error("expected record to also reach the output writer")
	}
}

func TestNewStructuredLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cubicler.log")
	cfg := Config{
		Level:  slog.LevelInfo,
		Format: FormatJSON,
		File:   path,
	}

	logger := NewStructuredLogger(cfg)
	logger.Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("to file")) {
		t.Errorf("expected log line in file, got %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected LogFormat
	}{
		{"json", FormatJSON},
		{"text", FormatText},
		{"pretty", FormatText},
		{"unknown", FormatJSON}, // defaults to json
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseFormat(tt.input); got != tt.expected {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  slog.LevelInfo,
		Format: FormatJSON,
		Output: &buf,
	}

	logger := NewStructuredLogger(cfg)
	logger = WithRequestID(logger, "req-123")
	logger.Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["request_id"] != "req-123" {
		t.Errorf("expected request_id 'req-123', got %v", entry["request_id"])
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != slog.LevelInfo {
		t.Errorf("expected default level INFO, got %v", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected default format JSON, got %v", cfg.Format)
	}
	if !cfg.Redact {
		t.Error("expected Redact to be on by default")
	}
}
