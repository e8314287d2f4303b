package domain

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeStatus is the terminal state of a single channel attempt.
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "SENT"
	OutcomeFailed  OutcomeStatus = "FAILED"
	OutcomeSkipped OutcomeStatus = "SKIPPED"
)

func (s OutcomeStatus) String() string { return string(s) }

func (s OutcomeStatus) IsValid() bool {
	switch s {
	case OutcomeSent, OutcomeFailed, OutcomeSkipped:
		return true
	}
	return false
}

// FailureKind is the normalized, provider-agnostic failure taxonomy. Raw
// provider errors never cross the adapter boundary.
type FailureKind string

const (
	// FailureMisconfigured means required credentials or endpoints were absent;
	// the adapter returned without attempting a network call.
	FailureMisconfigured FailureKind = "MISCONFIGURED"
	// FailureInvalidRecipient means channel validation rejected the recipient
	// data; surfaced as a SKIPPED outcome.
	FailureInvalidRecipient FailureKind = "INVALID_RECIPIENT"
	// FailureTimeout means the provider call exceeded its bound.
	FailureTimeout FailureKind = "TIMEOUT"
	// FailureProviderRejected means the provider was reachable but returned an
	// error status or no delivery identifier.
	FailureProviderRejected FailureKind = "PROVIDER_REJECTED"
	// FailureStorage means the audit record could not be persisted.
	FailureStorage FailureKind = "STORAGE_FAILURE"
)

func (k FailureKind) String() string { return string(k) }

func (k FailureKind) IsValid() bool {
	switch k {
	case FailureMisconfigured, FailureInvalidRecipient, FailureTimeout, FailureProviderRejected, FailureStorage:
		return true
	}
	return false
}

func ParseFailureKindFromString(s string) (FailureKind, error) {
	kind := FailureKind(strings.ToUpper(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: invalid failure kind %q", ErrValidation, s)
	}
	return kind, nil
}

// DispatchOutcome records the result of one channel attempt. Immutable once
// produced.
type DispatchOutcome struct {
	Channel           Channel
	Status            OutcomeStatus
	ProviderReference *string
	FailureReason     *FailureKind
	AttemptedAt       time.Time
}

// SentOutcome builds a SENT outcome with the provider's delivery identifier.
func SentOutcome(channel Channel, providerRef string, attemptedAt time.Time) DispatchOutcome {
	outcome := DispatchOutcome{
		Channel:     channel,
		Status:      OutcomeSent,
		AttemptedAt: attemptedAt,
	}
	if ref := strings.TrimSpace(providerRef); ref != "" {
		outcome.ProviderReference = &ref
	}
	return outcome
}

// FailedOutcome builds a FAILED outcome with a normalized failure reason.
func FailedOutcome(channel Channel, reason FailureKind, attemptedAt time.Time) DispatchOutcome {
	return DispatchOutcome{
		Channel:       channel,
		Status:        OutcomeFailed,
		FailureReason: &reason,
		AttemptedAt:   attemptedAt,
	}
}

// SkippedOutcome builds a SKIPPED outcome for a channel that failed validation.
func SkippedOutcome(channel Channel, attemptedAt time.Time) DispatchOutcome {
	reason := FailureInvalidRecipient
	return DispatchOutcome{
		Channel:       channel,
		Status:        OutcomeSkipped,
		FailureReason: &reason,
		AttemptedAt:   attemptedAt,
	}
}
