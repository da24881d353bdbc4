package controllers

import (
	"net/http"

	"github.com/angelmondragon/tablesync-backend/api/responses"
	"github.com/angelmondragon/tablesync-backend/api/validators"
	"github.com/angelmondragon/tablesync-backend/internal/cafes"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

type cafeProfileRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	ServiceMode string `json:"service_mode" validate:"required,service_mode"`
}

func GetCafe(svc cafes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cafeID, err := ownerCafeID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cafe, err := svc.RefreshTrial(r.Context(), cafeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cafe)
	}
}

// PutCafe creates the owner's cafe on first call and updates the profile after.
// The principal id doubles as the cafe id.
func PutCafe(svc cafes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cafeID, err := ownerCafeID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body cafeProfileRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		mode, err := enums.ParseServiceMode(body.ServiceMode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid service_mode"))
			return
		}

		cafe, err := svc.Provision(r.Context(), cafeID, cafes.ProvisionInput{
			Name:        validators.SanitizeString(body.Name, 120),
			ServiceMode: mode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cafe)
	}
}
