package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/tablesync-backend/api/responses"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope. It must sit inside
// RequestID so the log line and the body share the request id. The chi route
// context is shared with inner handlers, so the matched pattern is known here
// even though the panic happened further down.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					// net/http uses this to drop the connection silently.
					panic(rec)
				}

				err := fmt.Errorf("handler panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"method": r.Method,
						"route":  routePattern(r),
						"panic":  fmt.Sprint(rec),
					})
					logg.Error(ctx, "recovered handler panic", err)
				}
				responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
