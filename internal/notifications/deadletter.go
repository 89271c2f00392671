package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/etmpass/notifications-service/pkg/db"
	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/logger"
)

const maxDeadLetterError = 1024

// RejectedMessage is a queue message dropped without requeue.
type RejectedMessage struct {
	MessageID string
	EventType string
	Payload   []byte
	Err       error
	FailedAt  time.Time
}

// DeadLetterSink receives messages the consumer rejects.
type DeadLetterSink interface {
	Reject(ctx context.Context, msg RejectedMessage) error
}

// LogSink only records the rejection in the structured log.
type LogSink struct {
	logg *logger.Logger
}

func NewLogSink(logg *logger.Logger) *LogSink {
	return &LogSink{logg: logg}
}

func (s *LogSink) Reject(ctx context.Context, msg RejectedMessage) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"message_id":    msg.MessageID,
		"event_type":    msg.EventType,
		"payload_bytes": len(msg.Payload),
	})
	s.logg.Error(ctx, "notification message rejected", msg.Err)
	return nil
}

// DBSink stores rejected messages in notification_dead_letters. Redelivered
// duplicates are ignored.
type DBSink struct {
	repo DeadLetterRepository
	logg *logger.Logger
}

func NewDBSink(repo DeadLetterRepository, logg *logger.Logger) (*DBSink, error) {
	if repo == nil {
		return nil, errors.New("dead letter repository required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &DBSink{repo: repo, logg: logg}, nil
}

func (s *DBSink) Reject(ctx context.Context, msg RejectedMessage) error {
	failedAt := msg.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	payload := msg.Payload
	if payload == nil {
		payload = []byte{}
	}
	letter := &models.NotificationDeadLetter{
		MessageID: msg.MessageID,
		EventType: msg.EventType,
		Payload:   payload,
		FailedAt:  failedAt,
	}
	if msg.Err != nil {
		letter.ErrorMessage = stringPtr(truncate(msg.Err.Error(), maxDeadLetterError))
	}

	if err := s.repo.Create(ctx, letter); err != nil {
		if db.IsUniqueViolation(err, "uq_dead_letters_message_id") {
			return nil
		}
		return err
	}
	s.logg.Warn(s.logg.WithField(ctx, "message_id", msg.MessageID), "notification message dead-lettered")
	return nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
