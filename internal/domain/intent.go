package domain

import (
	"fmt"
	"strings"
)

// Channel represents a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// CanonicalChannels fixes the order outcomes appear in, regardless of which
// channel resolves first during a concurrent dispatch.
var CanonicalChannels = []Channel{ChannelEmail, ChannelSMS, ChannelInApp}

// Category classifies a notification for display and filtering.
type Category string

const (
	CategoryInfo    Category = "INFO"
	CategorySuccess Category = "SUCCESS"
	CategoryWarning Category = "WARNING"
	CategoryError   Category = "ERROR"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryInfo, CategorySuccess, CategoryWarning, CategoryError:
		return true
	}
	return false
}

func ParseCategoryFromString(s string) (Category, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return CategoryInfo, nil
	}
	cat := Category(strings.ToUpper(trimmed))
	if !cat.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return cat, nil
}

// Recipient carries per-channel delivery targets. Only the fields relevant to
// the requested channels need to be populated.
type Recipient struct {
	Email  string
	Phone  string
	UserID string
}

// NotificationIntent is the unit of work submitted to the gateway. It is
// transient: only the resulting AuditRecord is persisted.
type NotificationIntent struct {
	TenantID       string
	Channels       []Channel
	Recipient      Recipient
	Subject        string
	Body           string
	Category       Category
	IdempotencyKey *string
}

// Normalize trims fields, collapses duplicate channels into canonical order,
// and applies the default category.
func (i *NotificationIntent) Normalize() {
	if i == nil {
		return
	}

	i.TenantID = strings.TrimSpace(i.TenantID)
	i.Subject = strings.TrimSpace(i.Subject)
	i.Recipient.Email = strings.TrimSpace(i.Recipient.Email)
	i.Recipient.Phone = strings.TrimSpace(i.Recipient.Phone)
	i.Recipient.UserID = strings.TrimSpace(i.Recipient.UserID)

	if i.Category == "" {
		i.Category = CategoryInfo
	}

	requested := make(map[Channel]bool, len(i.Channels))
	for _, ch := range i.Channels {
		requested[ch] = true
	}
	channels := make([]Channel, 0, len(requested))
	for _, ch := range CanonicalChannels {
		if requested[ch] {
			channels = append(channels, ch)
		}
	}
	i.Channels = channels

	if i.IdempotencyKey != nil {
		trimmed := strings.TrimSpace(*i.IdempotencyKey)
		if trimmed == "" {
			i.IdempotencyKey = nil
		} else {
			i.IdempotencyKey = &trimmed
		}
	}
}

// Validate enforces the caller contract. A violation here rejects the whole
// intent before any channel work starts.
func (i *NotificationIntent) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: intent is required", ErrValidation)
	}
	if i.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if len(i.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrValidation)
	}
	for _, ch := range i.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	if strings.TrimSpace(i.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if !i.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, i.Category)
	}
	return nil
}
