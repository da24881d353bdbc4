package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tablesync-backend/api/responses"
	"github.com/angelmondragon/tablesync-backend/api/validators"
	"github.com/angelmondragon/tablesync-backend/internal/menu"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

type addMenuItemRequest struct {
	Category  string          `json:"category" validate:"required,max=80"`
	Name      string          `json:"name" validate:"required,max=120"`
	Price     decimal.Decimal `json:"price" validate:"money"`
	Available *bool           `json:"available"`
}

type updateMenuItemRequest struct {
	Name      *string          `json:"name" validate:"omitempty,max=120"`
	Price     *decimal.Decimal `json:"price" validate:"omitempty,money"`
	Available *bool            `json:"available"`
}

// PublicMenu serves the customer-facing menu and whether ordering is open.
func PublicMenu(svc menu.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cafeID, err := pathUUID(chi.URLParam(r, "cafeId"), "cafeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.GetPublicMenu(r.Context(), cafeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func OwnerMenu(svc menu.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cafeID, err := ownerCafeID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.GetMenu(r.Context(), cafeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func AddMenuItem(svc menu.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cafeID, err := ownerCafeID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body addMenuItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.AddItem(r.Context(), cafeID, menu.ItemInput{
			Category:  validators.SanitizeString(body.Category, 80),
			Name:      validators.SanitizeString(body.Name, 120),
			Price:     body.Price,
			Available: body.Available,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, item)
	}
}

func UpdateMenuItem(svc menu.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cafeID, err := ownerCafeID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body updateMenuItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Name == nil && body.Price == nil && body.Available == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update"))
			return
		}
		if body.Name != nil {
			name := validators.SanitizeString(*body.Name, 120)
			body.Name = &name
		}
		item, err := svc.UpdateItem(r.Context(), cafeID, chi.URLParam(r, "categoryId"), chi.URLParam(r, "itemId"), menu.ItemUpdate{
			Name:      body.Name,
			Price:     body.Price,
			Available: body.Available,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}

func DeleteMenuItem(svc menu.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cafeID, err := ownerCafeID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteItem(r.Context(), cafeID, chi.URLParam(r, "categoryId"), chi.URLParam(r, "itemId")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
