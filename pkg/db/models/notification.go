package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/etmpass/notifications-service/pkg/enums"
)

// Notification is the durable record for every channel. Only in-app rows are
// listed back to users.
type Notification struct {
	ID          uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      int64                     `gorm:"not null;index" json:"userId"`
	Channel     enums.NotificationChannel `gorm:"type:varchar(16);not null;default:in_app" json:"channel"`
	Type        enums.NotificationType    `gorm:"type:varchar(16);not null;default:info" json:"type"`
	Title       *string                   `gorm:"type:varchar(100)" json:"title,omitempty"`
	Subject     *string                   `gorm:"type:varchar(100)" json:"subject,omitempty"`
	Message     string                    `gorm:"type:text;not null" json:"message"`
	Recipient   *string                   `gorm:"column:recipient;type:varchar(320)" json:"recipient,omitempty"`
	IsRead      bool                      `gorm:"not null;default:false;index" json:"isRead"`
	ReadAt      *time.Time                `json:"readAt,omitempty"`
	ScheduledAt *time.Time                `json:"scheduledAt,omitempty"`
	ExpiresAt   *time.Time                `json:"expiresAt,omitempty"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt            `gorm:"index" json:"-"`
}

func (Notification) TableName() string {
	return "notifications"
}

// NotificationDeadLetter keeps queue messages that failed processing and were
// dropped instead of requeued.
type NotificationDeadLetter struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID    string    `gorm:"type:varchar(255);not null;uniqueIndex:uq_dead_letters_message_id"`
	EventType    string    `gorm:"type:varchar(64);not null"`
	Payload      []byte    `gorm:"not null"`
	ErrorMessage *string   `gorm:"type:text"`
	FailedAt     time.Time `gorm:"not null"`
	CreatedAt    time.Time
}

func (NotificationDeadLetter) TableName() string {
	return "notification_dead_letters"
}
