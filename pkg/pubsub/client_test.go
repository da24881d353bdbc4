package pubsub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
)

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{
		AlertsSubscription:    " order-alerts ",
		AnalyticsSubscription: "",
	})
	assert.Equal(t, []string{"order-alerts"}, names)
}

func TestResourceName(t *testing.T) {
	c := &Client{project: "tablesync-dev"}

	assert.Equal(t, "projects/tablesync-dev/subscriptions/order-alerts", c.resourceName("subscriptions", "order-alerts"))
	assert.Equal(t, "projects/other/subscriptions/x", c.resourceName("subscriptions", "projects/other/subscriptions/x"))
	assert.Equal(t, "projects/tablesync-dev/topics/orders", c.resourceName("topics", " orders "))
	assert.Empty(t, c.resourceName("topics", ""))

	var nilClient *Client
	assert.Empty(t, nilClient.resourceName("topics", "orders"))
	assert.Nil(t, nilClient.Publisher("orders"))
	assert.Nil(t, nilClient.Subscription("order-alerts"))
}

func TestDescribeMissing(t *testing.T) {
	assert.NoError(t, describeMissing("topic", "orders", nil))
	assert.EqualError(t, describeMissing("topic", "orders", status.Error(codes.NotFound, "gone")), `pubsub topic "orders" does not exist`)

	cause := status.Error(codes.PermissionDenied, "denied")
	assert.True(t, errors.Is(describeMissing("subscription", "alerts", cause), cause))
}

func TestCredentials(t *testing.T) {
	assert.Empty(t, credentials(config.GCPConfig{}))
	assert.Len(t, credentials(config.GCPConfig{CredentialsJSON: "{}"}), 1)
	assert.Len(t, credentials(config.GCPConfig{ApplicationCredentials: "/tmp/creds.json"}), 1)
}

func TestNilClientPing(t *testing.T) {
	var c *Client
	assert.ErrorIs(t, c.Ping(t.Context()), errClientNotInitialized)
	assert.NoError(t, c.Close())
}
