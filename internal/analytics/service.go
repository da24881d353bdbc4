package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/query"
	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	"github.com/angelmondragon/tablesync-backend/pkg/bigquery"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
)

const defaultReportWindow = 30 * 24 * time.Hour

// Service provides owner sales reports built from finalized order facts.
type Service interface {
	Sales(ctx context.Context, cafeID uuid.UUID, start, end time.Time) (*types.SalesReport, error)
}

type service struct {
	sales query.SalesService
	now   func() time.Time
}

// NewService builds an analytics service backed by BigQuery.
func NewService(client *bigquery.Client, table string) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}

	sales, err := query.NewSalesService(client, client.TableRef(table))
	if err != nil {
		return nil, err
	}

	return &service{sales: sales, now: time.Now}, nil
}

// Sales reports on [start, end]. A zero end means now and a zero start means
// thirty days before end.
func (s *service) Sales(ctx context.Context, cafeID uuid.UUID, start, end time.Time) (*types.SalesReport, error) {
	if cafeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cafe id required")
	}
	if end.IsZero() {
		end = s.now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-defaultReportWindow)
	}

	report, err := s.sales.Query(ctx, types.SalesQueryRequest{CafeID: cafeID.String(), Start: start, End: end})
	if err != nil {
		if pkgerrors.As(err).Code() == pkgerrors.CodeValidation {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query sales report")
	}
	return report, nil
}
