package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Defaults applied when Config fields are zero.
const (
	defaultMaxLogSizeMB = 10
	defaultMaxLogFiles  = 5
)

// Config controls where structured logs go and when the file rotates.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the log file destination. Empty selects DefaultLogPath.
	FilePath string
	// MaxSizeMB is the rotation threshold per file.
	MaxSizeMB int
	// MaxFiles is the number of rotated files kept behind the active one.
	MaxFiles int
	// WriteToStderr tees log lines to stderr as well as the file.
	WriteToStderr bool
}

// DefaultConfig returns file logging at info level under the user log dir.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     defaultMaxLogSizeMB,
		MaxFiles:      defaultMaxLogFiles,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig lowered to debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup opens the rotating log file and returns a JSON slog.Logger writing
// to it. The returned func flushes and closes the file; callers defer it.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.FilePath == "" {
		cfg.FilePath = DefaultLogPath()
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultMaxLogSizeMB
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxLogFiles
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var sink io.Writer = writer
	if cfg.WriteToStderr {
		sink = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level: LevelFromString(cfg.Level),
	})

	closer := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return slog.New(handler), closer, nil
}

// LevelFromString maps a level name to slog.Level. Unknown names fall back
// to info.
func LevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
