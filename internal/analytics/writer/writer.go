package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/tablesync-backend/pkg/bigquery"
)

// Config controls how order facts reach BigQuery.
type Config struct {
	OrderFactsTable string
	// BatchSize rows are buffered before a streaming insert. One keeps every
	// finalized order visible to the sales report right away.
	BatchSize   int
	RetryPolicy RetryPolicy
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter streams order fact rows into BigQuery.
type BigQueryWriter struct {
	client    tableInserter
	table     string
	batchSize int
	retry     RetryPolicy

	mu     sync.Mutex
	buffer []types.OrderFactRow
}

func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.OrderFactsTable)
	if table == "" {
		return nil, errors.New("order facts table is required")
	}
	return &BigQueryWriter{
		client:    client,
		table:     table,
		batchSize: max(cfg.BatchSize, 1),
		retry:     cfg.RetryPolicy.withDefaults(),
	}, nil
}

// InsertOrderFact buffers row and flushes once the batch is full. A failed
// flush keeps the rows buffered so the next call or Flush resends them.
func (w *BigQueryWriter) InsertOrderFact(ctx context.Context, row types.OrderFactRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, row)
	if len(w.buffer) < w.batchSize {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush sends whatever is buffered. The worker calls it on shutdown.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) flushLocked(ctx context.Context) error {
	if len(w.buffer) == 0 {
		return nil
	}

	// The event id doubles as the streaming insert id so a redelivered
	// order_finalized event does not double count a sale.
	rows := make([]any, 0, len(w.buffer))
	for i := range w.buffer {
		rows = append(rows, &cbigquery.StructSaver{Struct: &w.buffer[i], InsertID: w.buffer[i].EventID})
	}

	started := time.Now()
	if err := w.retry.do(ctx, func(ctx context.Context) error {
		return w.client.InsertRows(ctx, w.table, rows)
	}); err != nil {
		return fmt.Errorf("insert %d rows into %s after %s: %w", len(rows), w.table, time.Since(started).Round(time.Millisecond), err)
	}
	w.buffer = w.buffer[:0]
	return nil
}
