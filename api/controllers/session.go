package controllers

import (
	"net/http"

	"github.com/angelmondragon/tablesync-backend/api/middleware"
	"github.com/angelmondragon/tablesync-backend/api/responses"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// PublicSession echoes the anonymous session id resolved for the caller so a
// client without cookie storage can replay it in X-Session-Id.
func PublicSession(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.SessionIDFromContext(r.Context())
		if id == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session unavailable"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"session_id": string(id)})
	}
}

// OwnerWhoAmI returns the principal carried by the owner token.
func OwnerWhoAmI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"cafe_id": middleware.CafeIDFromContext(r.Context())}
		if email := middleware.OwnerEmailFromContext(r.Context()); email != "" {
			payload["email"] = email
		}
		responses.WriteSuccess(w, payload)
	}
}
