package notifications

import (
	"errors"
	"fmt"

	"github.com/etmpass/notifications-service/pkg/enums"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
)

var (
	ErrChannelMismatch    = errors.New("invalid channel for strategy")
	ErrMissingMessage     = errors.New("message is required for in-app notifications")
	ErrMissingDestination = errors.New("recipient address is required for email notifications")
	ErrUnsupportedChannel = errors.New("unsupported notification channel")
)

func channelMismatch(want, got enums.NotificationChannel) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrChannelMismatch,
		fmt.Sprintf("invalid channel %q for %s strategy", got, want))
}

func unsupportedChannel(channel enums.NotificationChannel) error {
	return pkgerrors.Wrap(pkgerrors.CodeUnsupportedChannel, ErrUnsupportedChannel,
		fmt.Sprintf("unsupported notification channel: %s", channel))
}
