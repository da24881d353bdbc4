package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

var errClientNotInitialized = errors.New("pubsub client not initialized")

// Client wraps the Pub/Sub v2 client for the order event bus: one orders
// topic fanned out to the alert and analytics subscriptions.
type Client struct {
	raw     *pubsub.Client
	project string
	cfg     config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and verifies that the orders topic and both
// subscriptions exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}

	raw, err := pubsub.NewClient(ctx, project, credentials(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{raw: raw, project: project, cfg: cfg, publishers: map[string]*pubsub.Publisher{}}
	if err := c.verify(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "orders_topic", cfg.OrdersTopic), "pubsub client ready")
	}
	return c, nil
}

func credentials(gcp config.GCPConfig) []option.ClientOption {
	if inline := strings.TrimSpace(gcp.CredentialsJSON); inline != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(inline))}
	}
	if file := strings.TrimSpace(gcp.ApplicationCredentials); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func subscriptionNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.AlertsSubscription, cfg.AnalyticsSubscription} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// verify looks up the topic and every subscription concurrently.
func (c *Client) verify(ctx context.Context) error {
	subs := subscriptionNames(c.cfg)
	if len(subs) == 0 {
		return errors.New("pubsub subscription name is required")
	}

	g, gctx := errgroup.WithContext(ctx)
	if topic := c.resourceName("topics", c.cfg.OrdersTopic); topic != "" {
		g.Go(func() error {
			_, err := c.raw.TopicAdminClient.GetTopic(gctx, &pubsubpb.GetTopicRequest{Topic: topic})
			return describeMissing("topic", topic, err)
		})
	}
	for _, name := range subs {
		sub := c.resourceName("subscriptions", name)
		g.Go(func() error {
			_, err := c.raw.SubscriptionAdminClient.GetSubscription(gctx, &pubsubpb.GetSubscriptionRequest{Subscription: sub})
			return describeMissing("subscription", sub, err)
		})
	}
	return g.Wait()
}

func describeMissing(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub %s %q does not exist", kind, name)
	default:
		return fmt.Errorf("check pubsub %s %q: %w", kind, name, err)
	}
}

// resourceName expands a short id into projects/<project>/<kind>/<id>.
// Fully qualified names pass through.
func (c *Client) resourceName(kind, name string) string {
	if c == nil {
		return ""
	}
	name = strings.TrimSpace(name)
	if name == "" || c.project == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	return fmt.Sprintf("projects/%s/%s/%s", c.project, kind, name)
}

// Subscription returns a subscriber for a short id or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	full := c.resourceName("subscriptions", name)
	if full == "" || c.raw == nil {
		return nil
	}
	return c.raw.Subscriber(full)
}

// AlertsSubscription feeds the order alert consumer.
func (c *Client) AlertsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.AlertsSubscription)
}

// AnalyticsSubscription feeds the BigQuery order facts consumer.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// Publisher returns the shared publisher for a topic. Publishers batch in
// the background, so one handle per topic is kept for the client lifetime.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	full := c.resourceName("topics", name)
	if full == "" || c.raw == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[full]; ok {
		return pub
	}
	pub := c.raw.Publisher(full)
	pub.EnableMessageOrdering = full == c.resourceName("topics", c.cfg.OrdersTopic)
	c.publishers[full] = pub
	return pub
}

// OrdersPublisher publishes order lifecycle events with message ordering
// enabled so events sharing an ordering key keep their commit order.
func (c *Client) OrdersPublisher() *pubsub.Publisher {
	return c.Publisher(c.cfg.OrdersTopic)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.raw == nil {
		return errClientNotInitialized
	}
	return c.verify(ctx)
}

// Close flushes every publisher before releasing the connection.
func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()
	return c.raw.Close()
}
