package logging

import (
	"context"
	"log/slog"

	"conform/internal/services"
)

// contextHandler copies the job, batch, and phase annotations carried by a
// context onto every record, so pipeline stages tag their log lines by
// annotating the context once instead of threading identifiers into each
// call.
type contextHandler struct {
	next slog.Handler
}

func withContextAttrs(next slog.Handler) slog.Handler {
	return &contextHandler{next: next}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		if id, ok := services.JobIDFromContext(ctx); ok {
			record.AddAttrs(slog.String(FieldJobID, id))
		}
		if id, ok := services.BatchIDFromContext(ctx); ok {
			record.AddAttrs(slog.String(FieldBatchID, id))
		}
		if phase, ok := services.PhaseFromContext(ctx); ok {
			record.AddAttrs(slog.String(FieldPhase, phase))
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}
