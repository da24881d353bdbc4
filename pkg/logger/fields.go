package logger

import (
	"context"
	"maps"
	"slices"
)

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	scoped := l.from(ctx).With().Interface(key, value).Logger()
	return context.WithValue(ctx, ctxKey{}, &scoped)
}

// WithFields adds fields in key order so output is stable across runs.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	builder := l.from(ctx).With()
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		builder = builder.Interface(key, fields[key])
	}
	scoped := builder.Logger()
	return context.WithValue(ctx, ctxKey{}, &scoped)
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithCafeID(ctx context.Context, cafeID string) context.Context {
	return l.WithField(ctx, "cafe_id", cafeID)
}

// WithSessionID tags entries with the anonymous customer session. The
// session is a correlation key and carries no identity.
func (l *Logger) WithSessionID(ctx context.Context, sessionID string) context.Context {
	return l.WithField(ctx, "session_id", sessionID)
}
