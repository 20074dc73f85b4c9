package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts a logger from the context.
// Returns zap.NewNop() if no logger is found.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// WithSession returns a context whose logger is tagged with a client session id
// and remote address.
func WithSession(ctx context.Context, base *zap.Logger, sessionID, remoteAddr string) context.Context {
	return ContextWithLogger(ctx, base.With(
		zap.String("session_id", sessionID),
		zap.String("remote_addr", remoteAddr),
	))
}
