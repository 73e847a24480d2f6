package logging

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedHandler drops records once the limiter runs out of tokens.
// Records at error level and above always pass.
type RateLimitedHandler struct {
	base  slog.Handler
	limit *rate.Limiter
}

// NewRateLimitedHandler wraps base so that at most one record per every
// (with the given burst) reaches it.
func NewRateLimitedHandler(base slog.Handler, every time.Duration, burst int) *RateLimitedHandler {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedHandler{
		base:  base,
		limit: rate.NewLimiter(rate.Every(every), burst),
	}
}

// RateLimited returns a logger writing to l's handler no more than once
// per every, with a small burst allowance.
func RateLimited(l *slog.Logger, every time.Duration) *slog.Logger {
	return slog.New(NewRateLimitedHandler(l.Handler(), every, 10))
}

// Enabled implements slog.Handler.
func (h *RateLimitedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RateLimitedHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < slog.LevelError && !h.limit.Allow() {
		return nil
	}
	return h.base.Handle(ctx, r)
}

// WithAttrs implements slog.Handler. The limiter is shared.
func (h *RateLimitedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RateLimitedHandler{base: h.base.WithAttrs(attrs), limit: h.limit}
}

// WithGroup implements slog.Handler. The limiter is shared.
func (h *RateLimitedHandler) WithGroup(name string) slog.Handler {
	return &RateLimitedHandler{base: h.base.WithGroup(name), limit: h.limit}
}
