package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// ValidateForChannel checks that an intent carries the recipient data a channel
// needs before any network call is attempted. A failure here only skips the
// channel; it never aborts the rest of the dispatch.
func (i *NotificationIntent) ValidateForChannel(channel Channel) error {
	if i == nil {
		return fmt.Errorf("%w: intent is required", ErrValidation)
	}

	switch channel {
	case ChannelEmail:
		if i.Recipient.Email == "" {
			return fmt.Errorf("%w: recipient email is required for the email channel", ErrValidation)
		}
		if _, err := mail.ParseAddress(i.Recipient.Email); err != nil {
			return fmt.Errorf("%w: invalid recipient email %q", ErrValidation, i.Recipient.Email)
		}
		if strings.TrimSpace(i.Subject) == "" {
			return fmt.Errorf("%w: subject is required for the email channel", ErrValidation)
		}
	case ChannelSMS:
		// Regional number formats vary by provider; only reject empty values.
		if strings.TrimSpace(i.Recipient.Phone) == "" {
			return fmt.Errorf("%w: recipient phone is required for the sms channel", ErrValidation)
		}
	case ChannelInApp:
		// Tenant-wide notices are permitted without a specific user.
		if i.Recipient.UserID == "" && i.TenantID == "" {
			return fmt.Errorf("%w: in-app channel requires a user id or tenant id", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, channel)
	}

	return nil
}
