package logging

import (
	"context"
	"log/slog"
)

// Attr mirrors slog.Attr so call sites avoid importing both packages.
type Attr = slog.Attr

// Shared field keys used across components so log lines stay greppable.
const (
	FieldComponent = "component"
	FieldJobID     = "job_id"
	FieldBatchID   = "batch_id"
	FieldPhase     = "phase"
	FieldPath      = "path"
	FieldCodec     = "codec"
	FieldContainer = "container"
	FieldEncoder   = "encoder"
	FieldAccel     = "accelerator"
)

// String builds a string attribute.
func String(key, value string) Attr { return slog.String(key, value) }

// Int builds an int attribute.
func Int(key string, value int) Attr { return slog.Int(key, value) }

// Int64 builds an int64 attribute.
func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

// Float64 builds a float64 attribute.
func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

// Bool builds a bool attribute.
func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

// Error builds an error attribute, tolerating nil errors.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Args converts typed attributes into the variadic any form slog expects.
func Args(attrs ...Attr) []any {
	out := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, attr)
	}
	return out
}

// NewNop returns a logger that drops every record.
func NewNop() *slog.Logger {
	return slog.New(NoopHandler())
}

// NoopHandler returns a handler that accepts and discards all records.
func NoopHandler() slog.Handler {
	return noopHandler{}
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (noopHandler) WithAttrs([]slog.Attr) slog.Handler        { return noopHandler{} }
func (noopHandler) WithGroup(string) slog.Handler             { return noopHandler{} }

// NewComponentLogger tags a child logger with a component name.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	return logger.With(String(FieldComponent, component))
}
