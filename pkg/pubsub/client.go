// Package pubsub wraps the Pub/Sub v2 client used by the worker (payment
// subscription) and the outbox publisher (entitlement topic).
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

type resource struct {
	kind resourceKind
	name string
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient dials Pub/Sub and fails fast when a configured topic or
// subscription is missing. Publish-only processes leave the payments
// subscription empty.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  projectID,
		cfg:        cfg,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id": projectID,
			"resources":  len(configuredResources(cfg)),
		}), "pubsub.connected")
	}
	return c, nil
}

func configuredResources(cfg config.PubSubConfig) []resource {
	var out []resource
	if name := strings.TrimSpace(cfg.PaymentsSubscription); name != "" {
		out = append(out, resource{kind: kindSubscription, name: name})
	}
	if name := strings.TrimSpace(cfg.EntitlementsTopic); name != "" {
		out = append(out, resource{kind: kindTopic, name: name})
	}
	return out
}

func (c *Client) verify(ctx context.Context) error {
	for _, res := range configuredResources(c.cfg) {
		if err := c.lookup(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, res resource) error {
	full := c.resourceName(res.kind, res.name)
	if full == "" {
		return fmt.Errorf("%s %q not configured", res.kind, res.name)
	}

	var err error
	switch res.kind {
	case kindSubscription:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", res.kind, full)
	default:
		return fmt.Errorf("checking %s %q: %w", res.kind, full, err)
	}
}

// Subscription returns a subscriber for an ID or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// PaymentsSubscription returns the subscriber for confirmed checkout payments.
func (c *Client) PaymentsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.PaymentsSubscription)
}

// Publisher returns the ordered publisher for a topic, reusing the handle
// across calls. Messages sharing an ordering key are delivered in order.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(kindTopic, name)
	if full == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	p.EnableMessageOrdering = true
	if c.publishers == nil {
		c.publishers = map[string]*pubsub.Publisher{}
	}
	c.publishers[full] = p
	return p
}

// Ping re-checks that the configured resources still exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

// Close flushes outstanding publishes and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for full, p := range c.publishers {
		p.Stop()
		delete(c.publishers, full)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName qualifies a bare ID with the client's project. Names that are
// already fully qualified for the same kind pass through.
func (c *Client) resourceName(kind resourceKind, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+string(kind)+"/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + string(kind) + "/" + n
}
