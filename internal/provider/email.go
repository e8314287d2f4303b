package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/wneessen/go-mail"
)

const defaultEmailTimeout = 15 * time.Second

// EmailConfig holds the mail relay connection settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailProvider delivers messages through an SMTP relay using go-mail.
type EmailProvider struct {
	config EmailConfig
	send   func(ctx context.Context, msg *mail.Msg) error
}

func NewEmailProvider(config EmailConfig) *EmailProvider {
	p := newEmailProvider(config, nil)
	p.send = p.dialAndSend
	return p
}

func newEmailProvider(config EmailConfig, sendFn func(ctx context.Context, msg *mail.Msg) error) *EmailProvider {
	config.Host = strings.TrimSpace(config.Host)
	config.Username = strings.TrimSpace(config.Username)
	config.From = strings.TrimSpace(config.From)
	if config.Port == 0 {
		config.Port = 587
	}

	return &EmailProvider{
		config: config,
		send:   sendFn,
	}
}

func (p *EmailProvider) Send(ctx context.Context, payload Payload) (*ProviderResponse, error) {
	if p == nil || p.send == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if p.config.Host == "" || p.config.From == "" {
		return nil, Misconfigured("mail relay host or sender address is not configured")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, fmt.Errorf("%w: recipient email is required", domain.ErrValidation)
	}

	msg := mail.NewMsg()
	if err := msg.From(p.config.From); err != nil {
		return nil, &ProviderError{
			Kind:    domain.FailureMisconfigured,
			Message: fmt.Sprintf("invalid sender address %q", p.config.From),
			Cause:   err,
		}
	}
	if err := msg.To(payload.To); err != nil {
		return nil, &ProviderError{
			Kind:    domain.FailureProviderRejected,
			Message: fmt.Sprintf("relay rejected recipient %q", payload.To),
			Cause:   err,
		}
	}

	msg.Subject(payload.Subject)
	msg.SetBodyString(mail.TypeTextPlain, payload.Body)
	msg.SetMessageID()

	if err := p.send(ctx, msg); err != nil {
		if isTimeoutError(err) {
			return nil, &ProviderError{
				Kind:    domain.FailureTimeout,
				Message: "mail relay call timed out",
				Cause:   err,
			}
		}
		return nil, &ProviderError{
			Kind:    domain.FailureProviderRejected,
			Message: "mail relay submission failed",
			Cause:   err,
		}
	}

	messageID := strings.Trim(strings.TrimSpace(msg.GetMessageID()), "<>")
	if messageID == "" {
		// The relay accepted the message but we have nothing to audit against.
		return nil, &ProviderError{
			Kind:    domain.FailureProviderRejected,
			Message: "mail relay returned no message identifier",
		}
	}

	return &ProviderResponse{MessageID: messageID}, nil
}

func (p *EmailProvider) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(p.config.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(defaultEmailTimeout),
	}
	if p.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(p.config.Username),
			mail.WithPassword(p.config.Password),
		)
	}

	client, err := mail.NewClient(p.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	return client.DialAndSendWithContext(ctx, msg)
}
