// Package audit records one structured event per answered question.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Logger records audit events.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Close releases resources.
	Close() error
}

// Event is one auditable request.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMS   int64          `json:"duration_ms"`
	RequestID    string         `json:"request_id"`
	Source       string         `json:"source"`
	Tool         string         `json:"tool,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	SQL          string         `json:"sql,omitempty"`
	Tables       []string       `json:"tables,omitempty"`
	RowCount     int            `json:"row_count"`
	Model        string         `json:"model,omitempty"`
	InputTokens  int            `json:"input_tokens,omitempty"`
	OutputTokens int            `json:"output_tokens,omitempty"`
	Outcome      string         `json:"outcome"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Config configures audit logging.
type Config struct {
	Enabled bool
	// Level is the slog level audit events are written at.
	Level slog.Level
}

// SlogLogger writes events as structured log records.
type SlogLogger struct {
	logger *slog.Logger
	level  slog.Level
}

var _ Logger = (*SlogLogger)(nil)

// NewSlogLogger writes events to logger, or slog.Default when nil.
func NewSlogLogger(logger *slog.Logger, cfg Config) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger.With("component", "audit"), level: cfg.Level}
}

// Log writes the event.
func (l *SlogLogger) Log(ctx context.Context, e Event) error {
	l.logger.LogAttrs(ctx, l.level, "audit",
		slog.String("event_id", e.ID),
		slog.Time("timestamp", e.Timestamp),
		slog.Int64("duration_ms", e.DurationMS),
		slog.String("request_id", e.RequestID),
		slog.String("source", e.Source),
		slog.String("tool", e.Tool),
		slog.Any("parameters", e.Parameters),
		slog.String("sql", e.SQL),
		slog.Any("tables", e.Tables),
		slog.Int("row_count", e.RowCount),
		slog.String("model", e.Model),
		slog.Int("input_tokens", e.InputTokens),
		slog.Int("output_tokens", e.OutputTokens),
		slog.String("outcome", e.Outcome),
		slog.Bool("success", e.Success),
		slog.String("error_message", e.ErrorMessage),
	)
	return nil
}

// Close is a no-op; the handler owns its writer.
func (*SlogLogger) Close() error {
	return nil
}

// NoopLogger discards events. It is used when auditing is disabled.
type NoopLogger struct{}

var _ Logger = (*NoopLogger)(nil)

// Log discards the event.
func (*NoopLogger) Log(context.Context, Event) error { return nil }

// Close does nothing.
func (*NoopLogger) Close() error { return nil }
