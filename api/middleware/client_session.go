package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/tablesync-backend/internal/session"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

type sessionResolver interface {
	GetOrCreate(ctx context.Context, storage session.Storage) session.Resolution
}

// ClientSession resolves the customer's anonymous session id from the
// X-Session-Id header or the session cookie, minting one when absent.
func ClientSession(resolver sessionResolver, secureCookies bool, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			storage := session.NewHTTPStorage(w, r, secureCookies)
			resolution := resolver.GetOrCreate(ctx, storage)

			ctx = WithSessionID(ctx, resolution.ID)
			if logg != nil {
				ctx = logg.WithSessionID(ctx, string(resolution.ID))
			}
			if resolution.Transient {
				w.Header().Set(session.HeaderName, string(resolution.ID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
