package orders

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tablesync-backend/api/middleware"
	"github.com/angelmondragon/tablesync-backend/api/responses"
	"github.com/angelmondragon/tablesync-backend/api/validators"
	internalorders "github.com/angelmondragon/tablesync-backend/internal/orders"
	"github.com/angelmondragon/tablesync-backend/internal/session"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

const (
	maxTableNoLength      = 32
	maxCustomerNameLength = 80
)

type lineItemRequest struct {
	Name  string          `json:"name" validate:"required,max=120"`
	Price decimal.Decimal `json:"price" validate:"money"`
	Qty   int             `json:"qty" validate:"gte=0,lte=99"`
}

type placeOrderRequest struct {
	TableNo      string            `json:"table_no"`
	CustomerName string            `json:"customer_name"`
	Items        []lineItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

// PlaceOrder merges the submitted items into the session's pending order, or
// opens a new one.
func PlaceOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		cafeID, err := parseURLUUID(r, "cafeId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sessionID := middleware.SessionIDFromContext(ctx)
		if sessionID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session missing"))
			return
		}

		var payload placeOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make(types.LineItems, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, types.LineItem{
				Name:  validators.SanitizeString(item.Name, 120),
				Price: item.Price,
				Qty:   item.Qty,
			})
		}
		client := session.ClientContext{
			SessionID:    sessionID,
			TableNo:      validators.SanitizeString(payload.TableNo, maxTableNoLength),
			CustomerName: validators.SanitizeString(payload.CustomerName, maxCustomerNameLength),
		}

		result, err := svc.PlaceOrder(ctx, cafeID, client, items)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

// LiveOrders returns the cafe's pending orders without subscribing.
func LiveOrders(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cafeID, err := parseCafeID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		live, err := svc.GetLive(ctx, cafeID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"orders": live})
	}
}

// Transition finalizes a pending order as completed or cancelled.
func Transition(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cafeID, err := parseCafeID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := parseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload transitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		entry, err := svc.Transition(ctx, cafeID, orderID, target)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, entry)
	}
}
