package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	cloudbigquery "cloud.google.com/go/bigquery"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
)

// maxRangeDays bounds a single report so one request cannot scan the whole
// table.
const maxRangeDays = 366

const (
	dailyCountSQL = `
SELECT
  FORMAT_DATE('%%F', DATE(finalized_at)) AS day,
  COUNT(DISTINCT order_id) AS value
FROM %s
WHERE cafe_id = @cafeID
  AND status = @status
  AND finalized_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	dailyRevenueSQL = `
SELECT
  FORMAT_DATE('%%F', DATE(finalized_at)) AS day,
  SUM(total_cents) AS value
FROM %s
WHERE cafe_id = @cafeID
  AND status = 'completed'
  AND finalized_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	topItemsSQL = `
SELECT label, SUM(value) AS value FROM (
  SELECT
    JSON_VALUE(item, '$.name') AS label,
    COALESCE(SAFE_CAST(JSON_VALUE(item, '$.qty') AS INT64), 1) AS value
  FROM %s,
  UNNEST(JSON_EXTRACT_ARRAY(items)) AS item
  WHERE cafe_id = @cafeID
    AND items IS NOT NULL
    AND status = 'completed'
    AND finalized_at BETWEEN @start AND @end
)
WHERE label IS NOT NULL
GROUP BY label
ORDER BY value DESC
LIMIT 5
`

	topTablesSQL = `
SELECT table_no AS label, COUNT(DISTINCT order_id) AS value
FROM %s
WHERE cafe_id = @cafeID
  AND table_no IS NOT NULL
  AND status = 'completed'
  AND finalized_at BETWEEN @start AND @end
GROUP BY table_no
ORDER BY value DESC
LIMIT 5
`

	averagesSQL = `
SELECT
  SAFE_DIVIDE(SUM(total_cents), NULLIF(COUNT(DISTINCT order_id), 0)) AS avg_order,
  AVG(open_seconds) AS avg_open
FROM %s
WHERE cafe_id = @cafeID
  AND status = 'completed'
  AND finalized_at BETWEEN @start AND @end
`
)

type rowQuerier interface {
	Query(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (*cloudbigquery.RowIterator, error)
}

// SalesService answers owner sales reports from the BigQuery order_facts table.
type SalesService interface {
	Query(ctx context.Context, req types.SalesQueryRequest) (*types.SalesReport, error)
}

type salesService struct {
	client   rowQuerier
	tableRef string
}

// NewSalesService reads from tableRef, a fully qualified table name.
func NewSalesService(client rowQuerier, tableRef string) (SalesService, error) {
	switch {
	case client == nil:
		return nil, errors.New("bigquery client required")
	case tableRef == "":
		return nil, errors.New("order facts table required")
	}
	return &salesService{client: client, tableRef: tableRef}, nil
}

type seriesRow struct {
	Day   string `bigquery:"day"`
	Value int64  `bigquery:"value"`
}

type labelRow struct {
	Label string `bigquery:"label"`
	Value int64  `bigquery:"value"`
}

type averagesRow struct {
	AvgOrder cloudbigquery.NullFloat64 `bigquery:"avg_order"`
	AvgOpen  cloudbigquery.NullFloat64 `bigquery:"avg_open"`
}

// Query runs the report's statements concurrently; the first failure
// cancels the rest.
func (s *salesService) Query(ctx context.Context, req types.SalesQueryRequest) (*types.SalesReport, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	params := []cloudbigquery.QueryParameter{
		{Name: "cafeID", Value: req.CafeID},
		{Name: "start", Value: req.Start.UTC()},
		{Name: "end", Value: req.End.UTC()},
	}
	withStatus := func(status string) []cloudbigquery.QueryParameter {
		return append(slices.Clone(params), cloudbigquery.QueryParameter{Name: "status", Value: status})
	}

	var (
		report   types.SalesReport
		averages []averagesRow
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		report.CompletedOrders, err = collect(ctx, s, "completed orders", dailyCountSQL, withStatus("completed"), seriesRow.point)
		return err
	})
	g.Go(func() (err error) {
		report.CancelledOrders, err = collect(ctx, s, "cancelled orders", dailyCountSQL, withStatus("cancelled"), seriesRow.point)
		return err
	})
	g.Go(func() (err error) {
		report.Revenue, err = collect(ctx, s, "revenue", dailyRevenueSQL, params, seriesRow.point)
		return err
	})
	g.Go(func() (err error) {
		report.TopItems, err = collect(ctx, s, "top items", topItemsSQL, params, labelRow.label)
		return err
	})
	g.Go(func() (err error) {
		report.TopTables, err = collect(ctx, s, "top tables", topTablesSQL, params, labelRow.label)
		return err
	})
	g.Go(func() (err error) {
		averages, err = collect(ctx, s, "averages", averagesSQL, params, func(r averagesRow) averagesRow { return r })
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(averages) > 0 {
		report.AverageOrderCents = averages[0].AvgOrder.Float64
		report.AverageOpenSeconds = averages[0].AvgOpen.Float64
	}
	return &report, nil
}

func (r seriesRow) point() types.TimeSeriesPoint {
	return types.TimeSeriesPoint{Date: r.Day, Value: r.Value}
}

func (r labelRow) label() types.LabelValue {
	return types.LabelValue{Label: r.Label, Value: r.Value}
}

// collect runs one templated statement against the facts table and maps
// every row.
func collect[R, T any](ctx context.Context, s *salesService, name, tmpl string, params []cloudbigquery.QueryParameter, convert func(R) T) ([]T, error) {
	iter, err := s.client.Query(ctx, fmt.Sprintf(tmpl, s.tableRef), params)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	var out []T
	for {
		var row R
		err := iter.Next(&row)
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row: %w", name, err)
		}
		out = append(out, convert(row))
	}
}

// ValidateRequest checks the cafe and the report window.
func ValidateRequest(req types.SalesQueryRequest) error {
	switch {
	case req.CafeID == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "cafe id required")
	case req.Start.IsZero() || req.End.IsZero():
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end are required")
	case req.End.Before(req.Start):
		return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	case req.End.Sub(req.Start) > maxRangeDays*24*time.Hour:
		return pkgerrors.New(pkgerrors.CodeValidation, "range must not exceed one year")
	}
	return nil
}
