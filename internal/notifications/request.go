package notifications

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
)

// Request is the inbound notification command, shared by the REST surface,
// the queue consumer and the producer.
type Request struct {
	UserID      int64                     `json:"userId" validate:"required,gt=0"`
	Channel     enums.NotificationChannel `json:"channel,omitempty"`
	Type        enums.NotificationType    `json:"type,omitempty" validate:"omitempty,oneof=info success warning error"`
	Title       *string                   `json:"title,omitempty" validate:"omitempty,min=3,max=100"`
	Message     string                    `json:"message,omitempty"`
	Subject     *string                   `json:"subject,omitempty" validate:"omitempty,min=3,max=100"`
	To          *string                   `json:"to,omitempty" validate:"omitempty,email"`
	ScheduledAt *time.Time                `json:"scheduledAt,omitempty"`
	ExpiresAt   *time.Time                `json:"expiresAt,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Normalize applies the channel and type defaults and trims optional text.
func (r Request) Normalize() Request {
	if r.Channel == "" {
		r.Channel = enums.NotificationChannelInApp
	}
	if r.Type == "" {
		r.Type = enums.NotificationTypeInfo
	}
	r.Title = trimmed(r.Title)
	r.Subject = trimmed(r.Subject)
	r.To = trimmed(r.To)
	return r
}

// Validate checks struct tags. Channel support is decided by the strategy
// table so an unknown channel surfaces as UNSUPPORTED_CHANNEL.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			details := map[string]string{}
			for _, fe := range errs {
				details[fe.Field()] = fieldMessage(fe)
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "email":
		return "must be a valid email"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}

func (r Request) toModel() *models.Notification {
	return &models.Notification{
		UserID:      r.UserID,
		Channel:     r.Channel,
		Type:        r.Type,
		Title:       r.Title,
		Subject:     r.Subject,
		Message:     r.Message,
		Recipient:   r.To,
		ScheduledAt: r.ScheduledAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}

func stringPtr(value string) *string {
	return &value
}
