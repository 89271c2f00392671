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
	"github.com/etmpass/notifications-service/pkg/metrics"
)

const queueConsumerName = "notifications-queue"

// Consumed message outcomes, also used as metric labels.
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
	outcomeRejected  = "rejected"
)

type dispatcher interface {
	Send(ctx context.Context, req Request) error
}

type idempotencyGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, messageID string) (bool, error)
	Release(ctx context.Context, consumer, messageID string) error
}

type ConsumerParams struct {
	Dispatcher   dispatcher
	Subscription *gcppubsub.Subscriber
	Idempotency  idempotencyGuard
	DeadLetters  DeadLetterSink
	Logger       *logger.Logger
	Metrics      *metrics.DeliveryMetrics
}

// Consumer drains the notifications subscription. Every message is acked:
// successful ones after dispatch, failed ones after they are handed to the
// dead-letter sink, so nothing is redelivered.
type Consumer struct {
	dispatcher   dispatcher
	subscription *gcppubsub.Subscriber
	idempotency  idempotencyGuard
	deadLetters  DeadLetterSink
	logg         *logger.Logger
	metrics      *metrics.DeliveryMetrics
	now          func() time.Time
}

func NewConsumer(p ConsumerParams) (*Consumer, error) {
	if p.Dispatcher == nil {
		return nil, fmt.Errorf("notifications dispatcher required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	sink := p.DeadLetters
	if sink == nil {
		sink = NewLogSink(p.Logger)
	}
	return &Consumer{
		dispatcher:   p.Dispatcher,
		subscription: p.Subscription,
		idempotency:  p.Idempotency,
		deadLetters:  sink,
		logg:         p.Logger,
		metrics:      p.Metrics,
		now:          time.Now,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("notifications subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		c.process(ctx, inbound{
			ID:        msg.ID,
			EventType: msg.Attributes[eventTypeAttribute],
			Data:      msg.Data,
		})
		msg.Ack()
	})
}

type inbound struct {
	ID        string
	EventType string
	Data      []byte
}

// routedChannel returns the channel implied by eventType and whether the
// event is one this consumer handles.
func routedChannel(eventType string) (enums.NotificationChannel, bool) {
	switch eventType {
	case EventSendNotification:
		return "", true
	case EventSendEmail:
		return enums.NotificationChannelEmail, true
	case EventSendInApp:
		return enums.NotificationChannelInApp, true
	case EventSendRealtime:
		return enums.NotificationChannelRealtime, true
	default:
		return "", false
	}
}

func (c *Consumer) process(ctx context.Context, msg inbound) string {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": msg.EventType,
	})

	routed, ok := routedChannel(msg.EventType)
	if !ok {
		c.logg.Info(logCtx, "skipping unknown event type")
		c.metrics.IncConsumed(outcomeSkipped)
		return outcomeSkipped
	}

	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return c.reject(logCtx, msg, fmt.Errorf("decode notification payload: %w", err))
	}
	if routed != "" {
		if req.Channel == "" {
			req.Channel = routed
		}
		if req.Channel != routed {
			return c.reject(logCtx, msg, channelMismatch(routed, req.Channel))
		}
	}

	claimed := false
	if c.idempotency != nil && msg.ID != "" {
		already, err := c.idempotency.CheckAndMarkProcessed(ctx, queueConsumerName, msg.ID)
		switch {
		case err != nil:
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "idempotency check failed, processing without it")
		case already:
			c.logg.Info(logCtx, "message already processed")
			c.metrics.IncConsumed(outcomeDuplicate)
			return outcomeDuplicate
		default:
			claimed = true
		}
	}

	if err := c.dispatcher.Send(ctx, req); err != nil {
		if claimed {
			if relErr := c.idempotency.Release(ctx, queueConsumerName, msg.ID); relErr != nil {
				c.logg.Warn(c.logg.WithField(logCtx, "error", relErr.Error()), "failed to release idempotency key")
			}
		}
		return c.reject(logCtx, msg, err)
	}

	c.metrics.IncConsumed(outcomeProcessed)
	return outcomeProcessed
}

func (c *Consumer) reject(ctx context.Context, msg inbound, cause error) string {
	c.logg.Error(ctx, "failed to process notification", cause)
	c.metrics.IncConsumed(outcomeRejected)

	err := c.deadLetters.Reject(ctx, RejectedMessage{
		MessageID: msg.ID,
		EventType: msg.EventType,
		Payload:   msg.Data,
		Err:       cause,
		FailedAt:  c.now().UTC(),
	})
	if err != nil {
		c.logg.Error(ctx, "failed to dead-letter notification message", errors.Join(cause, err))
	}
	return outcomeRejected
}
