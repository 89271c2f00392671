package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/etmpass/notifications-service/pkg/enums"
	"github.com/etmpass/notifications-service/pkg/logger"
)

// Routing keys carried in the event_type attribute.
const (
	EventSendNotification = "send_notification"
	EventSendEmail        = "send_email_notification"
	EventSendRealtime     = "send_realtime_notification"
	EventSendInApp        = "send_inapp_notification"

	eventTypeAttribute    = "event_type"
	defaultPublishTimeout = 10 * time.Second
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// Producer publishes notification requests onto the notifications topic.
type Producer struct {
	publisher publisher
	logg      *logger.Logger
	timeout   time.Duration
}

func NewProducer(pub *gcppubsub.Publisher, timeout time.Duration, logg *logger.Logger) (*Producer, error) {
	if pub == nil {
		return nil, errors.New("notifications publisher required")
	}
	return newProducer(&gcpPublisher{Publisher: pub}, timeout, logg)
}

func newProducer(pub publisher, timeout time.Duration, logg *logger.Logger) (*Producer, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Producer{publisher: pub, logg: logg, timeout: timeout}, nil
}

// RoutingKey maps a channel to its event type, falling back to
// send_notification for anything unknown.
func RoutingKey(channel enums.NotificationChannel) string {
	switch channel {
	case enums.NotificationChannelEmail:
		return EventSendEmail
	case enums.NotificationChannelRealtime:
		return EventSendRealtime
	case enums.NotificationChannelInApp:
		return EventSendInApp
	default:
		return EventSendNotification
	}
}

// Publish waits for the broker to accept the message and returns its id.
func (p *Producer) Publish(ctx context.Context, req Request) (string, error) {
	req = req.Normalize()
	eventType := RoutingKey(req.Channel)
	ctx = p.logg.WithFields(ctx, map[string]any{
		"user_id":    req.UserID,
		"event_type": eventType,
	})

	data, err := json.Marshal(req)
	if err != nil {
		return "", p.failed(ctx, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			eventTypeAttribute: eventType,
			"channel":          string(req.Channel),
			"created_at":       time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	if result == nil {
		return "", p.failed(ctx, errors.New("publisher returned nil result"))
	}
	id, err := result.Get(publishCtx)
	if err != nil {
		return "", p.failed(ctx, err)
	}
	p.logg.Info(p.logg.WithField(ctx, "message_id", id), "notification queued")
	return id, nil
}

func (p *Producer) failed(ctx context.Context, err error) error {
	p.logg.Error(ctx, "failed to send notification", err)
	return fmt.Errorf("failed to send notification: %w", err)
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
