package logr

import (
	"context"
	"log/slog"
)

// LevelHandler wraps a slog handler, dropping records below a minimum level.
//
// The default slog handler is fixed at info; wrapping it lets -v enable debug
// output without replacing the default output format.
type LevelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

var _ slog.Handler = (*LevelHandler)(nil)

// NewLevelHandler returns a LevelHandler with the given level.
func NewLevelHandler(level slog.Leveler, h slog.Handler) *LevelHandler {
	// Optimization: avoid chains of LevelHandlers.
	if lh, ok := h.(*LevelHandler); ok {
		h = lh.handler
	}
	return &LevelHandler{level, h}
}

func (h *LevelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *LevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewLevelHandler(h.level, h.handler.WithAttrs(attrs))
}

func (h *LevelHandler) WithGroup(name string) slog.Handler {
	return NewLevelHandler(h.level, h.handler.WithGroup(name))
}
