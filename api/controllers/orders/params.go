package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
)

func parseCafeID(r *http.Request) (uuid.UUID, error) {
	cafeID := middleware.CafeIDFromContext(r.Context())
	if cafeID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "cafe context missing")
	}
	parsed, err := uuid.Parse(cafeID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cafe id")
	}
	return parsed, nil
}

func parseURLUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, param+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+param)
	}
	return parsed, nil
}

func chiParam(r *http.Request, param string) string {
	return chi.URLParam(r, param)
}
