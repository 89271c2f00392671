package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/etmpass/notifications-service/pkg/config"
	"github.com/etmpass/notifications-service/pkg/logger"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client owns the Pub/Sub connection used by the queue producer and
// consumer. The notification topic and subscription are verified on start
// and on every readiness probe.
type Client struct {
	client    *pubsub.Client
	projectID string
	topic     string
	sub       string
	cfg       config.PubSubConfig
	logg      *logger.Logger
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topic := resourceName(projectID, kindTopic, cfg.NotificationTopic)
	sub := resourceName(projectID, kindSubscription, cfg.NotificationSubscription)
	if topic == "" || sub == "" {
		return nil, errors.New("pubsub topic and subscription are required")
	}

	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: projectID, topic: topic, sub: sub, cfg: cfg, logg: logg}

	if cfg.AutoCreate {
		err = c.provision(ctx)
	} else {
		err = c.Ping(ctx)
	}
	if err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"topic": topic, "subscription": sub}), "pubsub client initialized")
	}
	return c, nil
}

// clientOptions prefers inline credentials over a credentials file and falls
// back to application default credentials.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// Ping checks that the topic and the subscription both exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.client.TopicAdminClient.GetTopic(gctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
		return describe(err, "topic", c.topic)
	})
	g.Go(func() error {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(gctx, &pubsubpb.GetSubscriptionRequest{Subscription: c.sub})
		return describe(err, "subscription", c.sub)
	})
	return g.Wait()
}

// provision creates whichever of the topic and subscription is missing.
func (c *Client) provision(ctx context.Context) error {
	_, err := c.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: c.topic})
	if err := ignoreExists(err); err != nil {
		return fmt.Errorf("creating topic %s: %w", c.topic, err)
	}
	_, err = c.client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               c.sub,
		Topic:              c.topic,
		AckDeadlineSeconds: ackDeadlineSeconds(c.cfg),
	})
	if err := ignoreExists(err); err != nil {
		return fmt.Errorf("creating subscription %s: %w", c.sub, err)
	}
	if c.logg != nil {
		c.logg.Info(ctx, "pubsub topic and subscription provisioned")
	}
	return nil
}

// Pub/Sub accepts ack deadlines between 10 and 600 seconds.
func ackDeadlineSeconds(cfg config.PubSubConfig) int32 {
	secs := int32(cfg.AckDeadline.Seconds())
	switch {
	case secs < 10:
		return 10
	case secs > 600:
		return 600
	}
	return secs
}

// NotificationSubscription returns the subscriber for notification requests
// with flow control applied.
func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	sub := c.client.Subscriber(c.sub)
	if c.cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstandingMessages
	}
	return sub
}

// NotificationPublisher returns the publisher for the notification topic.
func (c *Client) NotificationPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Publisher(c.topic)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func describe(err error, kind, name string) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %s does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %s: %w", kind, name, err)
}

func ignoreExists(err error) error {
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// resourceName expands a short id to projects/<project>/<kind>/<id>. Full
// resource names pass through unchanged.
func resourceName(projectID, kind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	return "projects/" + projectID + "/" + kind + "/" + n
}
