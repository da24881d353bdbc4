package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/tablesync-backend/api/responses"
	pkgAuth "github.com/angelmondragon/tablesync-backend/pkg/auth"
	"github.com/angelmondragon/tablesync-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// OwnerAuth validates a bearer token and seeds the request context with the
// owner's cafe id.
func OwnerAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseOwnerToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxCafeID, claims.CafeID.String())
			if claims.Email != "" {
				ctx = context.WithValue(ctx, ctxOwnerEmail, claims.Email)
			}
			if logg != nil {
				ctx = logg.WithCafeID(ctx, claims.CafeID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header. EventSource clients cannot set
// headers, so stream routes may pass the token as ?access_token=.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
