package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/multierr"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

const verifyTimeout = 10 * time.Second

var errClientNotInitialized = errors.New("bigquery client not initialized")

type Pinger interface {
	Ping(context.Context) error
}

// Client is the order analytics warehouse: one dataset holding the order
// facts table written by the analytics worker and read by the sales report.
type Client struct {
	raw        *bigquery.Client
	dataset    *bigquery.Dataset
	project    string
	orderFacts string
}

// NewClient connects to BigQuery and fails fast when the dataset or the
// order facts table is missing. Tables are provisioned by infrastructure,
// never created here.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	dataset := strings.TrimSpace(cfg.Dataset)
	orderFacts := strings.TrimSpace(cfg.OrderFactsTable)

	var invalid error
	if project == "" {
		invalid = multierr.Append(invalid, errors.New("gcp project id is required"))
	}
	if dataset == "" {
		invalid = multierr.Append(invalid, errors.New("bigquery dataset is required"))
	}
	if orderFacts == "" {
		invalid = multierr.Append(invalid, errors.New("bigquery order facts table is required"))
	}
	if invalid != nil {
		return nil, invalid
	}

	raw, err := bigquery.NewClient(ctx, project, credentials(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	c := &Client{raw: raw, dataset: raw.Dataset(dataset), project: project, orderFacts: orderFacts}
	if err := c.verify(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"dataset": dataset, "order_facts_table": orderFacts})
		logg.Info(ctx, "bigquery client ready")
	}
	return c, nil
}

// credentials prefers inline JSON over a credentials file and otherwise
// leaves discovery to application default credentials.
func credentials(gcp config.GCPConfig) []option.ClientOption {
	if inline := strings.TrimSpace(gcp.CredentialsJSON); inline != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(inline))}
	}
	if file := strings.TrimSpace(gcp.ApplicationCredentials); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func (c *Client) verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return describeMissing("dataset", c.dataset.DatasetID, err)
	}
	if _, err := c.dataset.Table(c.orderFacts).Metadata(ctx); err != nil {
		return describeMissing("table", c.orderFacts, err)
	}
	return nil
}

func describeMissing(kind, name string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("bigquery %s %q does not exist", kind, name)
	}
	return fmt.Errorf("check bigquery %s %q: %w", kind, name, err)
}

// Ping re-checks that the dataset and order facts table are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.raw == nil {
		return errClientNotInitialized
	}
	return c.verify(ctx)
}

func (c *Client) OrderFactsTable() string {
	if c == nil {
		return ""
	}
	return c.orderFacts
}

// InsertRows streams rows into table. Rows implementing bigquery.ValueSaver
// supply their own insert ids for best effort dedupe.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.raw == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errors.New("bigquery table name is required")
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

// Query runs a parameterized read.
func (c *Client) Query(ctx context.Context, sql string, params []bigquery.QueryParameter) (*bigquery.RowIterator, error) {
	if c == nil || c.raw == nil {
		return nil, errClientNotInitialized
	}
	q := c.raw.Query(sql)
	q.Parameters = params
	return q.Read(ctx)
}

// TableRef returns the backtick quoted project.dataset.table name for SQL.
func (c *Client) TableRef(table string) string {
	if c == nil || c.dataset == nil {
		return ""
	}
	return fmt.Sprintf("`%s.%s.%s`", c.project, c.dataset.DatasetID, strings.TrimSpace(table))
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
