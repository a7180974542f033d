// Package logger provides the slog-based logging adapter.
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/blazinghq/kiln/internal/core/ports"
)

// messager is the subset of zerr.Error used to pull a single link's own
// message out of a wrapped chain (go.trai.ch/zerr v0.3.0+). Errors without
// it are treated as opaque and terminate chain traversal.
type messager interface {
	Message() string
}

// Logger implements ports.Logger on top of log/slog, switching between a
// pretty handler for terminals and a JSON handler for machine consumers.
type Logger struct {
	mu     sync.RWMutex
	logger *slog.Logger
	json   bool
	out    io.Writer
}

// New creates a Logger writing pretty output to stderr.
func New() ports.Logger {
	l := &Logger{out: os.Stderr}
	l.logger = slog.New(l.newHandler())
	return l
}

// newHandler builds the slog handler for the current mode and destination.
// Callers mutating the logger must hold mu.
func (l *Logger) newHandler() slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if l.json {
		return slog.NewJSONHandler(l.out, opts)
	}
	return NewPrettyHandler(l.out, opts)
}

// SetOutput redirects log output to w. A nil writer falls back to stderr.
// The current format mode is preserved.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w == nil {
		w = os.Stderr
	}
	l.out = w
	l.logger = slog.New(l.newHandler())
}

// SetJSON toggles JSON output. The output destination is preserved.
func (l *Logger) SetJSON(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.json = enable
	l.logger = slog.New(l.newHandler())
}

// Info logs an informational message.
func (l *Logger) Info(msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Info(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Warn(msg)
}

// Error logs an error with its cause chain. Pretty mode renders the chain
// hierarchically; JSON mode emits the error as a structured attribute.
func (l *Logger) Error(err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err == nil {
		return
	}

	if l.json {
		l.logger.Error("operation failed", "error", err)
		return
	}

	l.logger.Error(formatErrorEntries(collectErrorEntries(err)))
}
