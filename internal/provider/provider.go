package provider

import "context"

// Payload is the channel-agnostic message handed to an adapter. To carries an
// email address or a phone number depending on the adapter.
type Payload struct {
	To      string
	Subject string
	Body    string
}

// Provider is the outbound delivery port. Implementations are stateless per
// call so different channels can be dispatched concurrently.
type Provider interface {
	Send(ctx context.Context, payload Payload) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for audit persistence.
// MessageID is the provider's delivery identifier; an empty value is treated as
// a failure by callers even when the transport reported success.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
