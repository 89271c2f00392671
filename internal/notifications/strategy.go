package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/etmpass/notifications-service/pkg/enums"
)

// Strategy delivers a request over one channel. Implementations reject a
// request addressed to another channel before any side effect.
type Strategy interface {
	Channel() enums.NotificationChannel
	Send(ctx context.Context, req Request) error
}

// Strategies is the fixed channel table.
type Strategies struct {
	email    Strategy
	inApp    Strategy
	realTime Strategy
}

func NewStrategies(email, inApp, realTime Strategy) (*Strategies, error) {
	slots := []struct {
		strategy Strategy
		channel  enums.NotificationChannel
	}{
		{email, enums.NotificationChannelEmail},
		{inApp, enums.NotificationChannelInApp},
		{realTime, enums.NotificationChannelRealtime},
	}
	for _, slot := range slots {
		if slot.strategy == nil {
			return nil, fmt.Errorf("%s strategy required", slot.channel)
		}
		if got := slot.strategy.Channel(); got != slot.channel {
			return nil, errors.New("strategy " + string(got) + " registered for channel " + string(slot.channel))
		}
	}
	return &Strategies{email: email, inApp: inApp, realTime: realTime}, nil
}

// For returns the strategy for channel or ErrUnsupportedChannel.
func (s *Strategies) For(channel enums.NotificationChannel) (Strategy, error) {
	switch channel {
	case enums.NotificationChannelEmail:
		return s.email, nil
	case enums.NotificationChannelInApp:
		return s.inApp, nil
	case enums.NotificationChannelRealtime:
		return s.realTime, nil
	default:
		return nil, unsupportedChannel(channel)
	}
}
