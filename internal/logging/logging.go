package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the name of the log file written below the log directory.
const LogFileName = "chmparse.log"

// Rotation controls when the log file is rotated
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup configures the global slog logger
// Console output goes to stderr since stdout carries command output.
// If logOutputDir is non-empty, JSON logs are also written to a rotating file in that directory
func Setup(levelStr string, logOutputDir string, rot Rotation) (io.Closer, error) {
	logger, closer, err := New(os.Stderr, levelStr, logOutputDir, rot)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

// New builds a logger writing colored text to console and, when
// logOutputDir is set, JSON to a rotating file. The returned closer
// releases the file and is never nil.
func New(console io.Writer, levelStr string, logOutputDir string, rot Rotation) (*slog.Logger, io.Closer, error) {
	level := parseLogLevel(levelStr)

	consoleHandler := tint.NewHandler(console, &tint.Options{Level: level})

	if logOutputDir == "" {
		return slog.New(consoleHandler), io.NopCloser(nil), nil
	}

	logDir := os.ExpandEnv(logOutputDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log output directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFileName),
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
	}
	fileHandler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})

	return slog.New(slogmulti.Fanout(consoleHandler, fileHandler)), rotator, nil
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
