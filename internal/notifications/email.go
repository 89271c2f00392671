package notifications

import (
	"context"
	"errors"

	"github.com/etmpass/notifications-service/pkg/enums"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/mailer"
)

const defaultEmailSubject = "Notification"

// Mailer is satisfied by mailer.SMTPMailer.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type EmailStrategy struct {
	mailer Mailer
	logg   *logger.Logger
}

func NewEmailStrategy(m Mailer, logg *logger.Logger) (*EmailStrategy, error) {
	if m == nil {
		return nil, errors.New("mailer required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &EmailStrategy{mailer: m, logg: logg}, nil
}

func (s *EmailStrategy) Channel() enums.NotificationChannel {
	return enums.NotificationChannelEmail
}

// Send mails req.Message to req.To. Transport failures are not retried.
func (s *EmailStrategy) Send(ctx context.Context, req Request) error {
	if req.Channel != enums.NotificationChannelEmail {
		return channelMismatch(enums.NotificationChannelEmail, req.Channel)
	}
	if req.To == nil || *req.To == "" {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrMissingDestination, ErrMissingDestination.Error())
	}

	subject := defaultEmailSubject
	if req.Subject != nil && *req.Subject != "" {
		subject = *req.Subject
	}

	err := s.mailer.Send(ctx, mailer.Message{
		To:      *req.To,
		Subject: subject,
		Text:    req.Message,
	})
	if err != nil {
		s.logg.Error(s.logg.WithUserID(ctx, req.UserID), "failed to send email", err)
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "failed to send email")
	}
	return nil
}
