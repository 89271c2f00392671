package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/metrics"
	"github.com/etmpass/notifications-service/pkg/pagination"
)

// Service dispatches notifications and serves the in-app inbox.
type Service interface {
	Send(ctx context.Context, req Request) error
	SendEmail(ctx context.Context, userID int64, to, subject, message string) error
	SendInApp(ctx context.Context, userID int64, title, message string) error
	SendRealTime(ctx context.Context, userID int64, title, message string) error

	List(ctx context.Context, params ListParams) (*ListResult, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	MarkRead(ctx context.Context, userID int64, notificationID uuid.UUID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, userID int64, notificationID uuid.UUID) error
}

type ServiceParams struct {
	Repo       Repository
	Strategies *Strategies
	Logger     *logger.Logger
	Metrics    *metrics.DeliveryMetrics
}

type service struct {
	repo       Repository
	strategies *Strategies
	logg       *logger.Logger
	metrics    *metrics.DeliveryMetrics
	now        func() time.Time
}

// ListParams configures the inbox page. IsRead filters when set.
type ListParams struct {
	UserID int64
	Page   int
	Limit  int
	IsRead *bool
}

type ListResult struct {
	Notifications []models.Notification `json:"notifications"`
	Total         int64                 `json:"total"`
	Page          int                   `json:"page"`
	Limit         int                   `json:"limit"`
}

// NewService wires notifications dependencies.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if p.Strategies == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "delivery strategies required")
	}
	if p.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:       p.Repo,
		strategies: p.Strategies,
		logg:       p.Logger,
		metrics:    p.Metrics,
		now:        time.Now,
	}, nil
}

// Send validates req and hands it to the strategy for its channel.
func (s *service) Send(ctx context.Context, req Request) error {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	strategy, err := s.strategies.For(req.Channel)
	if err != nil {
		return err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id": req.UserID,
		"channel": string(req.Channel),
	})
	if err := strategy.Send(ctx, req); err != nil {
		s.metrics.IncDispatched(string(req.Channel), false)
		return sendFailed(req.Channel, err)
	}
	s.metrics.IncDispatched(string(req.Channel), true)
	s.logg.Debug(ctx, "notification dispatched")
	return nil
}

func (s *service) SendEmail(ctx context.Context, userID int64, to, subject, message string) error {
	return s.Send(ctx, Request{
		UserID:  userID,
		Channel: enums.NotificationChannelEmail,
		Type:    enums.NotificationTypeInfo,
		To:      stringPtr(to),
		Subject: stringPtr(subject),
		Message: message,
	})
}

func (s *service) SendInApp(ctx context.Context, userID int64, title, message string) error {
	return s.Send(ctx, Request{
		UserID:  userID,
		Channel: enums.NotificationChannelInApp,
		Type:    enums.NotificationTypeInfo,
		Title:   stringPtr(title),
		Message: message,
	})
}

func (s *service) SendRealTime(ctx context.Context, userID int64, title, message string) error {
	return s.Send(ctx, Request{
		UserID:  userID,
		Channel: enums.NotificationChannelRealtime,
		Type:    enums.NotificationTypeInfo,
		Title:   stringPtr(title),
		Message: message,
	})
}

func sendFailed(channel enums.NotificationChannel, err error) error {
	code := pkgerrors.CodeInternal
	msg := err.Error()
	var details any
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
		msg = typed.Message()
		details = typed.Details()
	}
	wrapped := pkgerrors.Wrap(code, err, fmt.Sprintf("failed to send %s notification: %s", channelLabel(channel), msg))
	if details != nil {
		wrapped = wrapped.WithDetails(details)
	}
	return wrapped
}

func channelLabel(channel enums.NotificationChannel) string {
	switch channel {
	case enums.NotificationChannelInApp:
		return "in-app"
	case enums.NotificationChannelRealtime:
		return "real-time"
	default:
		return string(channel)
	}
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	page := pagination.Params{Page: params.Page, Limit: params.Limit}.Normalize()
	rows, total, err := s.repo.ListForUser(ctx, listParams{
		UserID: params.UserID,
		Page:   page,
		IsRead: params.IsRead,
		Now:    s.now().UTC(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	if rows == nil {
		rows = []models.Notification{}
	}

	return &ListResult{
		Notifications: rows,
		Total:         total,
		Page:          page.Page,
		Limit:         page.Limit,
	}, nil
}

func (s *service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	count, err := s.repo.CountUnread(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread notifications")
	}
	return count, nil
}

func (s *service) MarkRead(ctx context.Context, userID int64, notificationID uuid.UUID) (*models.Notification, error) {
	if userID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	notification, err := s.repo.MarkRead(ctx, userID, notificationID, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if notification == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return notification, nil
}

func (s *service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

func (s *service) Delete(ctx context.Context, userID int64, notificationID uuid.UUID) error {
	if userID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	deleted, err := s.repo.SoftDelete(ctx, userID, notificationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete notification")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}
