package domain

import "time"

// AuditRecord is the durable, tenant-scoped log entry for one intent's full set
// of outcomes. Exactly one record is written per dispatched intent, after all
// requested channels have resolved. Outcomes are never mutated after creation;
// only the Read flag may be flipped later.
type AuditRecord struct {
	ID             string
	TenantID       string
	IdempotencyKey *string
	Category       Category
	Read           bool
	Outcomes       []DispatchOutcome
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Accepted reports whether at least one channel reached SENT.
func (r *AuditRecord) Accepted() bool {
	if r == nil {
		return false
	}
	for _, outcome := range r.Outcomes {
		if outcome.Status == OutcomeSent {
			return true
		}
	}
	return false
}

// DispatchResult is the aggregated result returned to the caller of a
// dispatch. A false Accepted means no channel delivered; the triggering action
// should warn the user without being blocked.
type DispatchResult struct {
	Accepted bool
	RecordID string
	Outcomes []DispatchOutcome
	// Replayed is true when the result was served from a previously stored
	// record for the same (tenant, idempotency key) without contacting any
	// provider.
	Replayed bool
}

// ResultFromRecord derives the dispatch result for a stored record, applying
// the same acceptance rule as a live dispatch.
func ResultFromRecord(record *AuditRecord, replayed bool) *DispatchResult {
	if record == nil {
		return nil
	}
	return &DispatchResult{
		Accepted: record.Accepted(),
		RecordID: record.ID,
		Outcomes: record.Outcomes,
		Replayed: replayed,
	}
}
