package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultVerificationTimeout = 10 * time.Second

// VerificationService forwards bank-account verification lookups to the
// upstream verification API. Upstream JSON is returned verbatim on success;
// failures are normalized to a status code and a single error message, the same
// discipline the gateway applies to provider errors.
type VerificationService struct {
	client  *resty.Client
	baseURL string
	token   string
	logger  *zap.Logger
}

// VerificationError carries the upstream status for the HTTP layer to echo.
type VerificationError struct {
	StatusCode int
	Message    string
}

func (e *VerificationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("account verification failed: status=%d: %s", e.StatusCode, e.Message)
}

func NewVerificationService(baseURL, token string, logger *zap.Logger) *VerificationService {
	client := resty.New()
	client.SetTimeout(defaultVerificationTimeout)
	client.SetRetryCount(0)

	return NewVerificationServiceWithClient(baseURL, token, client, logger)
}

func NewVerificationServiceWithClient(baseURL, token string, client *resty.Client, logger *zap.Logger) *VerificationService {
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultVerificationTimeout)
	}
	client.SetRetryCount(0)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &VerificationService{
		client:  client,
		baseURL: strings.TrimSpace(baseURL),
		token:   strings.TrimSpace(token),
		logger:  logger,
	}
}

// Verify looks up an account with the upstream API and returns its JSON body
// untouched. The returned error is always a VerificationError or a validation
// error; raw upstream error shapes never reach the caller.
func (s *VerificationService) Verify(ctx context.Context, accountNumber, bankName string) (json.RawMessage, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	bankName = strings.TrimSpace(bankName)
	if accountNumber == "" {
		return nil, fmt.Errorf("%w: account number is required", domain.ErrValidation)
	}
	if bankName == "" {
		return nil, fmt.Errorf("%w: bank name is required", domain.ErrValidation)
	}
	if s.baseURL == "" || s.token == "" {
		return nil, &VerificationError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "account verification is not configured",
		}
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.token).
		SetQueryParams(map[string]string{
			"account_number": accountNumber,
			"bank_name":      bankName,
		}).
		Get(s.baseURL)
	if err != nil {
		s.logger.Warn("verification request failed", zap.Error(err))
		return nil, &VerificationError{
			StatusCode: http.StatusBadGateway,
			Message:    "verification service is unreachable",
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return json.RawMessage(response.Body()), nil
	}

	return nil, &VerificationError{
		StatusCode: statusCode,
		Message:    upstreamErrorMessage(response.Body(), statusCode),
	}
}

// upstreamErrorMessage extracts a human-readable message from whichever field
// the upstream happens to use.
func upstreamErrorMessage(body []byte, statusCode int) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, field := range []string{"error", "message", "detail"} {
			if value, ok := parsed[field].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	return fmt.Sprintf("verification service returned status %d", statusCode)
}
