package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "INFO", "json")

	logger.Debug("hidden")
	logger.Info("visible", "team_id", "T1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["msg"] != "visible" || entry["team_id"] != "T1" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != slog.Default() {
		t.Error("Expected default logger for bare context")
	}

	var buf bytes.Buffer
	logger := NewLogger(&buf, "INFO", "text")
	ctx := ContextWithLogger(context.Background(), logger)

	BotLogger(ctx, "T1", "UBOT").Info("hello")

	out := buf.String()
	if !strings.Contains(out, "team_id=T1") || !strings.Contains(out, "bot_id=UBOT") {
		t.Errorf("Expected bot attributes in %q", out)
	}
}
