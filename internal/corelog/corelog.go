// Package corelog provides structured logging for the store runtime: a
// *slog.Logger built from a Config, or a package-level default. No other
// package of this module imports it.
package corelog

import (
	"io"
	"log/slog"
	"os"
)

// Config controls how a store's logger is constructed. A zero Config
// logs at info level to stderr only, which is appropriate for tests and
// embedding in another process's existing logging setup.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string
	// FilePath, if non-empty, is rotated via RotatingWriter.
	FilePath string
	// MaxSizeMB is the rotation threshold (default 10 if FilePath set and this is 0).
	MaxSizeMB int
	// MaxFiles caps how many rotated files are retained (default 5).
	MaxFiles int
	// WriteToStderr mirrors output to stderr in addition to FilePath.
	WriteToStderr bool
}

// DefaultConfig logs structured JSON to stderr at info level.
func DefaultConfig() Config {
	return Config{Level: "info", WriteToStderr: true}
}

// New builds a *slog.Logger per cfg and a cleanup func that flushes and
// closes any rotating file writer. Callers that don't need file logging
// can ignore the cleanup func (it is always non-nil and safe to call).
func New(cfg Config) (*slog.Logger, func(), error) {
	var output io.Writer = os.Stderr
	cleanup := func() {}

	if cfg.FilePath != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxFiles := cfg.MaxFiles
		if maxFiles <= 0 {
			maxFiles = 5
		}

		writer, err := NewRotatingWriter(cfg.FilePath, maxSize, maxFiles)
		if err != nil {
			return nil, nil, err
		}

		if cfg.WriteToStderr {
			output = io.MultiWriter(writer, os.Stderr)
		} else {
			output = writer
		}
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(handler), cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// defaultLogger is used by packages that accept an optional *slog.Logger
// and fall back to this when the caller passes nil, mirroring how the
// store never requires a caller to plumb a logger through every call.
var defaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Default returns the package-level fallback logger.
func Default() *slog.Logger { return defaultLogger }

// Or returns logger if non-nil, otherwise the package default, so a
// caller that passes its result on never hands out a nil logger.
func Or(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return defaultLogger
}
