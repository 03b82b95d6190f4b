package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"fatal", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		var console bytes.Buffer
		logger, closer, err := New(&console, "warn", "", Rotation{})
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		defer closer.Close()

		logger.Info("hidden")
		logger.Warn("shown", "kind", "corrupt directory")
		out := console.String()
		if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
			t.Errorf("console output = %q", out)
		}
	})

	t.Run("console and file", func(t *testing.T) {
		dir := t.TempDir()
		var console bytes.Buffer
		logger, closer, err := New(&console, "debug", filepath.Join(dir, "logs"), Rotation{MaxSizeMB: 1})
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		logger.Debug("read directory", "chunk_count", 3)
		if err := closer.Close(); err != nil {
			t.Fatalf("Close() failed: %v", err)
		}

		data, err := os.ReadFile(filepath.Join(dir, "logs", LogFileName))
		if err != nil {
			t.Fatalf("log file not written: %v", err)
		}
		var rec map[string]any
		if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		if rec["msg"] != "read directory" || rec["chunk_count"] != float64(3) {
			t.Errorf("log record = %v", rec)
		}
		if !strings.Contains(console.String(), "read directory") {
			t.Errorf("console output = %q", console.String())
		}
	})
}
