package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
)

type creator interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type InAppStrategy struct {
	store creator
	now   func() time.Time
}

func NewInAppStrategy(store creator) (*InAppStrategy, error) {
	if store == nil {
		return nil, errors.New("notifications repository required")
	}
	return &InAppStrategy{store: store, now: time.Now}, nil
}

func (s *InAppStrategy) Channel() enums.NotificationChannel {
	return enums.NotificationChannelInApp
}

// Send stores an unread in-app row. A request scheduled for the future is
// accepted and dropped without being stored.
func (s *InAppStrategy) Send(ctx context.Context, req Request) error {
	if req.Channel != enums.NotificationChannelInApp {
		return channelMismatch(enums.NotificationChannelInApp, req.Channel)
	}
	if strings.TrimSpace(req.Message) == "" {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrMissingMessage, ErrMissingMessage.Error())
	}
	if req.ScheduledAt != nil && req.ScheduledAt.After(s.now()) {
		return nil
	}

	notification := req.toModel()
	notification.IsRead = false
	if err := s.store.Create(ctx, notification); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to save in-app notification")
	}
	return nil
}
