package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/foodbridge/notify-gateway/internal/domain"
)

// ProviderError carries a provider call failure already classified into the
// normalized taxonomy. Adapters map heterogeneous SDK and transport errors into
// this type at their boundary; raw provider errors never travel further.
type ProviderError struct {
	Kind       domain.FailureKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.Kind != "" {
		parts = append(parts, fmt.Sprintf("kind=%s", e.Kind))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Misconfigured builds the failure returned when required credentials or
// endpoints are absent. Adapters return it before attempting any network call.
func Misconfigured(message string) *ProviderError {
	return &ProviderError{
		Kind:    domain.FailureMisconfigured,
		Message: message,
	}
}

// KindOf normalizes an adapter error into a FailureKind. Unknown errors fall
// back to PROVIDER_REJECTED so every failure lands in the taxonomy.
func KindOf(err error) domain.FailureKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTimeout
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Kind.IsValid() {
		return providerErr.Kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FailureTimeout
	}

	return domain.FailureProviderRejected
}
