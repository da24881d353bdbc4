package analytics

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/api/middleware"
	"github.com/angelmondragon/tablesync-backend/api/responses"
	"github.com/angelmondragon/tablesync-backend/internal/analytics"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

const defaultSalesPreset = "30d"

var salesPresets = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// SalesReport serves the owner dashboard KPIs for ?preset= or an explicit
// ?from=&to= window.
func SalesReport(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return salesReport(service, logg, func() time.Time { return time.Now().UTC() })
}

func salesReport(service analytics.Service, logg *logger.Logger, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if service == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analytics service unavailable"))
			return
		}
		cafeID, err := uuid.Parse(middleware.CafeIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cafe context required"))
			return
		}

		start, end, err := salesWindow(r.URL.Query(), now())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		report, err := service.Sales(ctx, cafeID, start, end)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func salesWindow(query url.Values, now time.Time) (time.Time, time.Time, error) {
	from, to := strings.TrimSpace(query.Get("from")), strings.TrimSpace(query.Get("to"))
	if from == "" && to == "" {
		preset := strings.ToLower(strings.TrimSpace(query.Get("preset")))
		if preset == "" {
			preset = defaultSalesPreset
		}
		span, ok := salesPresets[preset]
		if !ok {
			return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "preset must be one of 7d, 30d, 90d")
		}
		return now.Add(-span), now, nil
	}
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "from and to must be provided together")
	}

	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "from must be an RFC3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "to must be an RFC3339 timestamp")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from")
	}
	return start.UTC(), end.UTC(), nil
}
