// Package logger configures the process-wide slog logger and carries
// request-scoped fields through context.
package logger

import (
	"context"
	"log/slog"
	"os"

	"billfeed/api/internal/config"
)

func Setup(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = NewContextHandler(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		handler = NewContextHandler(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(slog.New(handler))
}

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every record logged with a context that carries them.
type LogFields struct {
	RequestID  string
	BillID     string
	RollCallID string
	Component  string
}

// WithLogFields merges fields into the context, newer non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := GetLogFields(ctx)
	if fields.RequestID != "" {
		merged.RequestID = fields.RequestID
	}
	if fields.BillID != "" {
		merged.BillID = fields.BillID
	}
	if fields.RollCallID != "" {
		merged.RollCallID = fields.RollCallID
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := GetLogFields(ctx)
	if fields.RequestID != "" {
		r.AddAttrs(slog.String("request_id", fields.RequestID))
	}
	if fields.BillID != "" {
		r.AddAttrs(slog.String("bill_id", fields.BillID))
	}
	if fields.RollCallID != "" {
		r.AddAttrs(slog.String("roll_call_id", fields.RollCallID))
	}
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
