package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LogConfig controls the NDJSON audit file.
type LogConfig struct {
	Enabled   bool
	Path      string
	QueueSize int
}

// Logger writes every event as a structured slog line and, when enabled,
// appends it to an NDJSON file on a background goroutine.
type Logger struct {
	logger    *slog.Logger
	file      *os.File
	enc       *json.Encoder
	w         *worker
	closeOnce sync.Once
	closeErr  error
}

// NewLogger opens the audit file (creating parent directories) and starts
// the writer.
func NewLogger(cfg LogConfig, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{logger: logger.With("component", "audit")}
	if !cfg.Enabled {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l.file = f
	l.enc = json.NewEncoder(f)
	l.w = startWorker("file", cfg.QueueSize, l.logger, l.write)
	return l, nil
}

// Log implements Sink.
func (l *Logger) Log(event Event) {
	event = Normalize(event)
	l.logger.Info("audit event",
		"event_id", event.ID,
		"event_type", string(event.EventType),
		"user_id", event.UserID,
		"details", event.Details,
	)
	if l.w != nil {
		l.w.enqueue(event)
	}
}

func (l *Logger) write(event Event) {
	if err := l.enc.Encode(event); err != nil {
		l.logger.Error("Failed to write audit event", "event_type", string(event.EventType), "error", err)
	}
}

// Close drains pending events and closes the file.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		if l.w == nil {
			return
		}
		l.w.stop()
		if err := l.file.Close(); err != nil {
			l.closeErr = fmt.Errorf("close audit log: %w", err)
		}
	})
	return l.closeErr
}
