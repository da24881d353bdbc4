package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderFactRow mirrors the order_facts BigQuery schema: one row per
// finalized order.
type OrderFactRow struct {
	EventID     string             `bigquery:"event_id"`
	OccurredAt  time.Time          `bigquery:"occurred_at"`
	CafeID      string             `bigquery:"cafe_id"`
	OrderID     string             `bigquery:"order_id"`
	TableNo     *string            `bigquery:"table_no"`
	Status      string             `bigquery:"status"`
	LineCount   int64              `bigquery:"line_count"`
	ItemCount   int64              `bigquery:"item_count"`
	TotalCents  int64              `bigquery:"total_cents"`
	CreatedAt   time.Time          `bigquery:"created_at"`
	FinalizedAt time.Time          `bigquery:"finalized_at"`
	OpenSeconds *int64             `bigquery:"open_seconds"`
	Items       cbigquery.NullJSON `bigquery:"items"`
	Payload     cbigquery.NullJSON `bigquery:"payload"`
}
