package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/etmpass/notifications-service/internal/repo"
	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
	"github.com/etmpass/notifications-service/pkg/pagination"
)

// Repository exposes persistence helpers for notifications.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListForUser(ctx context.Context, params listParams) ([]models.Notification, int64, error)
	CountUnread(ctx context.Context, userID int64, now time.Time) (int64, error)
	MarkRead(ctx context.Context, userID int64, notificationID uuid.UUID, now time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID int64, now time.Time) (int64, error)
	SoftDelete(ctx context.Context, userID int64, notificationID uuid.UUID) (bool, error)
}

type repositoryImpl struct {
	repo.Base
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{Base: repo.NewBase(db)}
}

type listParams struct {
	UserID int64
	Page   pagination.Params
	IsRead *bool
	Now    time.Time
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	return r.DB(ctx).Create(notification).Error
}

// visible scopes a query to in-app rows of userID that are due and unexpired.
// Soft-deleted rows are excluded by gorm.
func visible(db *gorm.DB, userID int64, now time.Time) *gorm.DB {
	return db.Model(&models.Notification{}).
		Where("user_id = ?", userID).
		Where("channel = ?", enums.NotificationChannelInApp).
		Where("(scheduled_at IS NULL OR scheduled_at <= ?)", now).
		Where("(expires_at IS NULL OR expires_at > ?)", now)
}

func (r *repositoryImpl) ListForUser(ctx context.Context, params listParams) ([]models.Notification, int64, error) {
	query := visible(r.DB(ctx), params.UserID, params.Now)
	if params.IsRead != nil {
		query = query.Where("is_read = ?", *params.IsRead)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC, id DESC").
		Scopes(repo.Paginate(params.Page)).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repositoryImpl) CountUnread(ctx context.Context, userID int64, now time.Time) (int64, error) {
	var count int64
	err := visible(r.DB(ctx), userID, now).Where("is_read = ?", false).Count(&count).Error
	return count, err
}

// MarkRead returns nil when the notification does not belong to userID.
func (r *repositoryImpl) MarkRead(ctx context.Context, userID int64, notificationID uuid.UUID, now time.Time) (*models.Notification, error) {
	var notification models.Notification
	found := true
	err := r.InTx(ctx, func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND user_id = ?", notificationID, userID).First(&notification).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		if notification.IsRead {
			return nil
		}

		readAt := now
		if err := tx.Model(&notification).Updates(map[string]any{
			"is_read": true,
			"read_at": readAt,
		}).Error; err != nil {
			return err
		}
		notification.IsRead = true
		notification.ReadAt = &readAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &notification, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, userID int64, now time.Time) (int64, error) {
	result := r.DB(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND channel = ? AND is_read = ?", userID, enums.NotificationChannelInApp, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) SoftDelete(ctx context.Context, userID int64, notificationID uuid.UUID) (bool, error) {
	result := r.DB(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeadLetterRepository stores rejected queue messages.
type DeadLetterRepository interface {
	Create(ctx context.Context, letter *models.NotificationDeadLetter) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type deadLetterRepository struct {
	repo.Base
}

func NewDeadLetterRepository(db *gorm.DB) DeadLetterRepository {
	return &deadLetterRepository{Base: repo.NewBase(db)}
}

func (r *deadLetterRepository) Create(ctx context.Context, letter *models.NotificationDeadLetter) error {
	if letter.ID == uuid.Nil {
		letter.ID = uuid.New()
	}
	return r.DB(ctx).Create(letter).Error
}

func (r *deadLetterRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.DB(ctx).Where("failed_at < ?", cutoff).Delete(&models.NotificationDeadLetter{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
