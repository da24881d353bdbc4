package middleware

import (
	"context"

	"github.com/angelmondragon/tablesync-backend/internal/session"
)

type contextKey string

const (
	ctxCafeID     contextKey = "cafe_id"
	ctxOwnerEmail contextKey = "owner_email"
	ctxSessionID  contextKey = "session_id"
)

// CafeIDFromContext returns the authenticated owner's cafe id.
func CafeIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxCafeID).(string); ok {
		return v
	}
	return ""
}

func OwnerEmailFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOwnerEmail).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext returns the anonymous customer session id.
func SessionIDFromContext(ctx context.Context) session.ID {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxSessionID).(session.ID); ok {
		return v
	}
	return ""
}

// WithCafeID injects the cafe identifier into the context.
func WithCafeID(ctx context.Context, cafeID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxCafeID, cafeID)
}

func WithSessionID(ctx context.Context, id session.ID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxSessionID, id)
}
