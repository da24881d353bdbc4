package types

import "time"

// SalesQueryRequest carries the input parameters for a cafe sales report.
type SalesQueryRequest struct {
	CafeID string
	Start  time.Time
	End    time.Time
}

// TimeSeriesPoint describes a single date/value pair returned by the query service.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// LabelValue represents a top-N entry such as a menu item name.
type LabelValue struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// SalesReport wraps the sales KPIs for the owner dashboard. Money values are
// in cents.
type SalesReport struct {
	CompletedOrders    []TimeSeriesPoint `json:"completed_orders"`
	Revenue            []TimeSeriesPoint `json:"revenue"`
	CancelledOrders    []TimeSeriesPoint `json:"cancelled_orders"`
	TopItems           []LabelValue      `json:"top_items"`
	TopTables          []LabelValue      `json:"top_tables"`
	AverageOrderCents  float64           `json:"average_order_cents"`
	AverageOpenSeconds float64           `json:"average_open_seconds"`
}
