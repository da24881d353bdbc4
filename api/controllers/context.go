package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
)

// ownerCafeID returns the cafe bound to the authenticated owner.
func ownerCafeID(r *http.Request) (uuid.UUID, error) {
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

func pathUUID(raw, name string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return parsed, nil
}
