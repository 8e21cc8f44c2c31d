package geofuse

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with fusion-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRun adds a run ID field to the logger.
func (l *Logger) WithRun(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run", id),
	}
}

// WithMode adds the fusion mode (interpolate or summarize).
func (l *Logger) WithMode(mode string) *Logger {
	return &Logger{
		Logger: l.Logger.With("mode", mode),
	}
}

// WithRadius adds the search radius in metres.
func (l *Logger) WithRadius(radius float64) *Logger {
	return &Logger{
		Logger: l.Logger.With("radius_m", radius),
	}
}

// LogIndex logs the construction of a band index.
// Excluded points are reported at WARN: they can never be matched.
func (l *Logger) LogIndex(ctx context.Context, points, bands, excluded int, elapsed time.Duration) {
	if excluded > 0 {
		l.WarnContext(ctx, "points outside the band range excluded",
			"points", points,
			"bands", bands,
			"excluded", excluded,
		)
		return
	}
	l.DebugContext(ctx, "band index built",
		"points", points,
		"bands", bands,
		"elapsed", elapsed,
	)
}

// LogMatch logs a nearest-neighbour pass.
func (l *Logger) LogMatch(ctx context.Context, targets, matched int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "match failed",
			"targets", targets,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "match completed",
			"targets", targets,
			"matched", matched,
			"unmatched", targets-matched,
			"elapsed", elapsed,
		)
	}
}

// LogResolve logs the end of a fusion run.
func (l *Logger) LogResolve(ctx context.Context, outputs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fusion failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "fusion completed",
			"outputs", outputs,
		)
	}
}
