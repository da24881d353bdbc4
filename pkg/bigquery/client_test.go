package bigquery

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
)

func TestCredentialsPreferInlineJSON(t *testing.T) {
	assert.Len(t, credentials(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds"}), 1)
	assert.Len(t, credentials(config.GCPConfig{ApplicationCredentials: "/tmp/creds"}), 1)
	assert.Empty(t, credentials(config.GCPConfig{CredentialsJSON: "  "}))
}

func TestNewClientReportsEveryMissingSetting(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.BigQueryConfig{OrderFactsTable: " "}, nil)
	assert.ErrorContains(t, err, "project id")
	assert.ErrorContains(t, err, "dataset")
	assert.ErrorContains(t, err, "order facts table")
}

func TestDescribeMissing(t *testing.T) {
	notFound := &googleapi.Error{Code: http.StatusNotFound}
	assert.EqualError(t, describeMissing("table", "order_facts", notFound), `bigquery table "order_facts" does not exist`)

	denied := &googleapi.Error{Code: http.StatusForbidden, Message: "denied"}
	err := describeMissing("dataset", "tablesync", denied)
	assert.ErrorIs(t, err, denied)
}

func TestNilClientGuards(t *testing.T) {
	var c *Client
	ctx := context.Background()
	assert.True(t, errors.Is(c.InsertRows(ctx, "order_facts", []any{1}), errClientNotInitialized))
	assert.ErrorIs(t, c.Ping(ctx), errClientNotInitialized)
	_, err := c.Query(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, errClientNotInitialized)
	assert.Empty(t, c.OrderFactsTable())
	assert.Empty(t, c.TableRef("order_facts"))
	assert.NoError(t, c.Close())
}
