package realtime

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
)

// ErrDeliveryFailed marks a push that timed out or failed on the wire.
var ErrDeliveryFailed = errors.New("failed to send notification")

// Payload is the body of the "notification" event pushed to clients.
type Payload struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Title     *string                `json:"title,omitempty"`
	Message   string                 `json:"message"`
	CreatedAt time.Time              `json:"createdAt"`
}

func payloadFrom(n *models.Notification) Payload {
	return Payload{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	}
}

// PendingDelivery is a real-time notification waiting for an acknowledged push.
type PendingDelivery struct {
	NotificationID uuid.UUID
	UserID         int64
	Payload        Payload
	Retries        int
	CreatedAt      time.Time

	timer stopper
}

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}
