package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/marketplace-orders/pkg/config"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

// Requirement is a topic or subscription the process cannot run without. It is
// checked at startup and again on every Ping.
type Requirement struct {
	kind string
	name string
}

func RequireTopic(name string) Requirement { return Requirement{kind: kindTopic, name: name} }

func RequireSubscription(name string) Requirement {
	return Requirement{kind: kindSubscription, name: name}
}

func (r Requirement) String() string { return strings.TrimSuffix(r.kind, "s") + " " + r.name }

// Client wraps the Pub/Sub v2 client. Publishers are created once per topic and
// stopped on Close so buffered messages are flushed.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	required  []Requirement

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, required ...Requirement) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	for _, r := range required {
		if resourceName(projectID, r.kind, r.name) == "" {
			return nil, fmt.Errorf("pubsub %s name is required", strings.TrimSuffix(r.kind, "s"))
		}
	}

	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{
		client:     psClient,
		projectID:  projectID,
		cfg:        cfg,
		required:   required,
		publishers: make(map[string]*pubsub.Publisher),
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project_id": projectID, "resources": len(required)}), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Ping confirms every required resource still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, r := range c.required {
		full := resourceName(c.projectID, r.kind, r.name)
		var err error
		if r.kind == kindTopic {
			_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		} else {
			_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
		}
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("%s does not exist", r)
		case err != nil:
			return fmt.Errorf("check %s: %w", r, err)
		}
	}
	return nil
}

// Subscription accepts a bare ID or a full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.NotificationSubscription)
}

// Publisher returns the cached publisher for a topic ID or resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindTopic, name)
	if full == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	c.publishers[full] = p
	return p
}

// Close flushes and stops publishers before closing the connection.
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

// resourceName expands a bare ID into projects/<project>/<kind>/<id>. Full names pass through.
func resourceName(projectID, kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	case strings.TrimSpace(projectID) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(projectID) + "/" + kind + "/" + name
}
