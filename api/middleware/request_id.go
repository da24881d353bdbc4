package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

const maxRequestIDLen = 64

// RequestID propagates a caller supplied X-Request-Id when it is short and
// plain, and mints a uuid otherwise. The id is echoed on the response and
// carried on the logging context.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(types.RequestIDHeader)
			if !usableRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(types.RequestIDHeader, id)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// usableRequestID keeps log lines and headers free of whatever a client
// decides to send.
func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
