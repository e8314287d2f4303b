package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/go-resty/resty/v2"
)

const (
	defaultSMSTimeout  = 10 * time.Second
	defaultSMSSenderID = "FoodBridge"
)

// SMSConfig holds the HTTP messaging gateway settings.
type SMSConfig struct {
	BaseURL  string
	APIKey   string
	SenderID string
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	SMS     string `json:"sms"`
	Type    string `json:"type"`
	APIKey  string `json:"api_key"`
	Channel string `json:"channel"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

// SMSProvider submits plain-text messages to an HTTP messaging gateway.
type SMSProvider struct {
	client *resty.Client
	config SMSConfig
}

func NewSMSProvider(config SMSConfig) *SMSProvider {
	client := resty.New()
	client.SetTimeout(defaultSMSTimeout)
	client.SetRetryCount(0)

	return NewSMSProviderWithClient(config, client)
}

func NewSMSProviderWithClient(config SMSConfig, client *resty.Client) *SMSProvider {
	config.BaseURL = strings.TrimSpace(config.BaseURL)
	config.APIKey = strings.TrimSpace(config.APIKey)
	config.SenderID = strings.TrimSpace(config.SenderID)
	if config.SenderID == "" {
		config.SenderID = defaultSMSSenderID
	}

	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSMSTimeout)
	}
	client.SetRetryCount(0)

	return &SMSProvider{
		client: client,
		config: config,
	}
}

func (p *SMSProvider) Send(ctx context.Context, payload Payload) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if p.config.BaseURL == "" || p.config.APIKey == "" {
		return nil, Misconfigured("sms gateway url or api key is not configured")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, fmt.Errorf("%w: recipient phone is required", domain.ErrValidation)
	}

	reqBody := smsRequest{
		To:      payload.To,
		From:    p.config.SenderID,
		SMS:     payload.Body,
		Type:    "plain",
		APIKey:  p.config.APIKey,
		Channel: "generic",
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.config.BaseURL)
	if err != nil {
		if isTimeoutError(err) {
			return nil, &ProviderError{
				Kind:    domain.FailureTimeout,
				Message: "sms gateway call timed out",
				Cause:   err,
			}
		}
		return nil, &ProviderError{
			Kind:    domain.FailureProviderRejected,
			Message: "sms gateway request failed",
			Cause:   err,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			Kind:       domain.FailureProviderRejected,
			StatusCode: statusCode,
			Message:    smsErrorMessage(statusCode, responseBody),
		}
	}

	var parsed smsResponse
	if err := json.Unmarshal(response.Body(), &parsed); err != nil {
		return nil, &ProviderError{
			Kind:       domain.FailureProviderRejected,
			StatusCode: statusCode,
			Message:    "sms gateway returned malformed response",
			Cause:      err,
		}
	}
	if strings.TrimSpace(parsed.MessageID) == "" {
		// Accepted-but-unconfirmed is not good enough for the audit trail.
		return nil, &ProviderError{
			Kind:       domain.FailureProviderRejected,
			StatusCode: statusCode,
			Message:    "sms gateway returned no message identifier",
		}
	}

	return &ProviderResponse{
		StatusCode: statusCode,
		Body:       responseBody,
		MessageID:  strings.TrimSpace(parsed.MessageID),
	}, nil
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func smsErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("sms gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
