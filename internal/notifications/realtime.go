package notifications

import (
	"context"
	"errors"

	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
)

// Engine is satisfied by realtime.Engine.
type Engine interface {
	Send(ctx context.Context, n *models.Notification) error
}

type RealTimeStrategy struct {
	engine Engine
}

func NewRealTimeStrategy(engine Engine) (*RealTimeStrategy, error) {
	if engine == nil {
		return nil, errors.New("real-time engine required")
	}
	return &RealTimeStrategy{engine: engine}, nil
}

func (s *RealTimeStrategy) Channel() enums.NotificationChannel {
	return enums.NotificationChannelRealtime
}

func (s *RealTimeStrategy) Send(ctx context.Context, req Request) error {
	if req.Channel != enums.NotificationChannelRealtime {
		return channelMismatch(enums.NotificationChannelRealtime, req.Channel)
	}
	return s.engine.Send(ctx, req.toModel())
}
