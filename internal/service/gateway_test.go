package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/foodbridge/notify-gateway/internal/provider"
	"github.com/foodbridge/notify-gateway/internal/repository"
)

type fakeAuditRepo struct {
	mu      sync.Mutex
	records []*domain.AuditRecord

	createErr error
	lookupErr error
	creates   int
}

func (f *fakeAuditRepo) Create(_ context.Context, record *domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if f.createErr != nil {
		return f.createErr
	}

	if record.IdempotencyKey != nil {
		for _, existing := range f.records {
			if existing.TenantID == record.TenantID &&
				existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *record.IdempotencyKey {
				return errors.New(`duplicate key value violates unique constraint "idx_audit_records_tenant_idempotency_key"`)
			}
		}
	}

	stored := *record
	f.records = append(f.records, &stored)
	return nil
}

func (f *fakeAuditRepo) GetByID(_ context.Context, tenantID, id string) (*domain.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, record := range f.records {
		if record.TenantID == tenantID && record.ID == id {
			copied := *record
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAuditRepo) GetByIdempotencyKey(_ context.Context, tenantID, key string) (*domain.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, record := range f.records {
		if record.TenantID == tenantID && record.IdempotencyKey != nil && *record.IdempotencyKey == key {
			copied := *record
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAuditRepo) List(context.Context, string, repository.ListParams) ([]domain.AuditRecord, int64, error) {
	return nil, 0, nil
}

func (f *fakeAuditRepo) MarkRead(context.Context, string, string) error { return nil }

func (f *fakeAuditRepo) MarkAllRead(context.Context, string) error { return nil }

func (f *fakeAuditRepo) CountUnread(context.Context, string) (int64, error) { return 0, nil }

type fakeProvider struct {
	mu    sync.Mutex
	calls []provider.Payload

	response *provider.ProviderResponse
	err      error
	delay    time.Duration
}

func (f *fakeProvider) Send(ctx context.Context, payload provider.Payload) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, payload)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
	releases int

	acquireErr error
	denyAll    bool
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acquires++
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.denyAll {
		return false, nil
	}
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.releases++
	delete(f.held, key)
	return nil
}

func newTestGateway(t *testing.T, repo *fakeAuditRepo, providers map[domain.Channel]provider.Provider) *Gateway {
	t.Helper()

	gateway, err := NewGateway(repo, providers, nil, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	return gateway
}

func emailIntent() *domain.NotificationIntent {
	return &domain.NotificationIntent{
		TenantID: "tenant-a",
		Channels: []domain.Channel{domain.ChannelEmail},
		Recipient: domain.Recipient{
			Email: "volunteer@example.org",
		},
		Subject:  "Pickup scheduled",
		Body:     "Your pickup is confirmed for Friday.",
		Category: domain.CategorySuccess,
	}
}

func TestGatewayDispatchEmailHappyPath(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{StatusCode: 200, MessageID: "msg-1"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	})

	result, err := gateway.Dispatch(context.Background(), emailIntent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !result.Accepted {
		t.Error("Dispatch() accepted = false, want true")
	}
	if result.Replayed {
		t.Error("Dispatch() replayed = true, want false")
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("Dispatch() outcomes = %d, want 1", len(result.Outcomes))
	}

	outcome := result.Outcomes[0]
	if outcome.Status != domain.OutcomeSent {
		t.Errorf("outcome status = %s, want %s", outcome.Status, domain.OutcomeSent)
	}
	if outcome.ProviderReference == nil || *outcome.ProviderReference != "msg-1" {
		t.Errorf("outcome providerReference = %v, want msg-1", outcome.ProviderReference)
	}
	if email.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", email.callCount())
	}
	if len(repo.records) != 1 {
		t.Fatalf("stored records = %d, want 1", len(repo.records))
	}
	if repo.records[0].ID != result.RecordID {
		t.Errorf("record id = %s, want %s", repo.records[0].ID, result.RecordID)
	}
	if repo.records[0].Read {
		t.Error("new record marked read")
	}
}

func TestGatewayDispatchSkipsInvalidChannelWithoutProviderCall(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-1"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	})

	intent := emailIntent()
	intent.Recipient.Email = "not-an-address"

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if result.Accepted {
		t.Error("Dispatch() accepted = true, want false")
	}
	if email.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", email.callCount())
	}

	outcome := result.Outcomes[0]
	if outcome.Status != domain.OutcomeSkipped {
		t.Errorf("outcome status = %s, want %s", outcome.Status, domain.OutcomeSkipped)
	}
	if outcome.FailureReason == nil || *outcome.FailureReason != domain.FailureInvalidRecipient {
		t.Errorf("failure reason = %v, want %s", outcome.FailureReason, domain.FailureInvalidRecipient)
	}
}

func TestGatewayDispatchChannelFailuresAreIndependent(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	email := &fakeProvider{err: &provider.ProviderError{
		Kind:       domain.FailureProviderRejected,
		StatusCode: 502,
		Message:    "smtp relay unavailable",
	}}
	sms := &fakeProvider{response: &provider.ProviderResponse{StatusCode: 200, MessageID: "sms-7"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
		domain.ChannelSMS:   sms,
	})

	intent := emailIntent()
	intent.Channels = []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}
	intent.Recipient.Phone = "+15551230000"

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !result.Accepted {
		t.Error("Dispatch() accepted = false, want true when one channel succeeds")
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("Dispatch() outcomes = %d, want 2", len(result.Outcomes))
	}

	emailOutcome, smsOutcome := result.Outcomes[0], result.Outcomes[1]
	if emailOutcome.Channel != domain.ChannelEmail || emailOutcome.Status != domain.OutcomeFailed {
		t.Errorf("email outcome = %s/%s, want EMAIL/FAILED", emailOutcome.Channel, emailOutcome.Status)
	}
	if emailOutcome.FailureReason == nil || *emailOutcome.FailureReason != domain.FailureProviderRejected {
		t.Errorf("email failure reason = %v, want %s", emailOutcome.FailureReason, domain.FailureProviderRejected)
	}
	if smsOutcome.Channel != domain.ChannelSMS || smsOutcome.Status != domain.OutcomeSent {
		t.Errorf("sms outcome = %s/%s, want SMS/SENT", smsOutcome.Channel, smsOutcome.Status)
	}
}

func TestGatewayDispatchKeepsCanonicalOutcomeOrder(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	// Email resolves last; the outcome slice must still lead with it.
	email := &fakeProvider{
		delay:    50 * time.Millisecond,
		response: &provider.ProviderResponse{MessageID: "mail-1"},
	}
	sms := &fakeProvider{response: &provider.ProviderResponse{MessageID: "sms-1"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
		domain.ChannelSMS:   sms,
	})

	intent := emailIntent()
	intent.Channels = []domain.Channel{domain.ChannelInApp, domain.ChannelSMS, domain.ChannelEmail}
	intent.Recipient.Phone = "+15551230000"
	intent.Recipient.UserID = "user-9"

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	want := []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelInApp}
	if len(result.Outcomes) != len(want) {
		t.Fatalf("Dispatch() outcomes = %d, want %d", len(result.Outcomes), len(want))
	}
	for i, channel := range want {
		if result.Outcomes[i].Channel != channel {
			t.Errorf("outcomes[%d].Channel = %s, want %s", i, result.Outcomes[i].Channel, channel)
		}
	}
}

func TestGatewayDispatchInAppReferencesAuditRecord(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	gateway := newTestGateway(t, repo, nil)

	intent := emailIntent()
	intent.Channels = []domain.Channel{domain.ChannelInApp}
	intent.Recipient = domain.Recipient{UserID: "user-3"}

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !result.Accepted {
		t.Error("Dispatch() accepted = false, want true")
	}
	outcome := result.Outcomes[0]
	if outcome.Status != domain.OutcomeSent {
		t.Fatalf("outcome status = %s, want %s", outcome.Status, domain.OutcomeSent)
	}
	if outcome.ProviderReference == nil || *outcome.ProviderReference != result.RecordID {
		t.Errorf("in-app providerReference = %v, want record id %s", outcome.ProviderReference, result.RecordID)
	}
}

func TestGatewayDispatchMissingAdapterFailsFastWithoutNetwork(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{})

	intent := emailIntent()
	intent.Channels = []domain.Channel{domain.ChannelSMS}
	intent.Recipient = domain.Recipient{Phone: "+15551230000"}

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if result.Accepted {
		t.Error("Dispatch() accepted = true, want false")
	}
	outcome := result.Outcomes[0]
	if outcome.Status != domain.OutcomeFailed {
		t.Errorf("outcome status = %s, want %s", outcome.Status, domain.OutcomeFailed)
	}
	if outcome.FailureReason == nil || *outcome.FailureReason != domain.FailureMisconfigured {
		t.Errorf("failure reason = %v, want %s", outcome.FailureReason, domain.FailureMisconfigured)
	}
	if len(repo.records) != 1 {
		t.Errorf("stored records = %d, want 1 (failures are audited too)", len(repo.records))
	}
}

func TestGatewayDispatchMissingMessageIDIsRejected(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{StatusCode: 200, MessageID: "  "}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	})

	result, err := gateway.Dispatch(context.Background(), emailIntent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	outcome := result.Outcomes[0]
	if outcome.Status != domain.OutcomeFailed {
		t.Errorf("outcome status = %s, want %s", outcome.Status, domain.OutcomeFailed)
	}
	if outcome.FailureReason == nil || *outcome.FailureReason != domain.FailureProviderRejected {
		t.Errorf("failure reason = %v, want %s", outcome.FailureReason, domain.FailureProviderRejected)
	}
}

func TestGatewayDispatchContractViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*domain.NotificationIntent)
	}{
		{
			name:   "missing tenant",
			mutate: func(i *domain.NotificationIntent) { i.TenantID = "  " },
		},
		{
			name:   "no channels",
			mutate: func(i *domain.NotificationIntent) { i.Channels = nil },
		},
		{
			name:   "empty body",
			mutate: func(i *domain.NotificationIntent) { i.Body = "" },
		},
		{
			name:   "unknown category",
			mutate: func(i *domain.NotificationIntent) { i.Category = domain.Category("URGENT") },
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &fakeAuditRepo{}
			email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg"}}
			gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
				domain.ChannelEmail: email,
			})

			intent := emailIntent()
			tt.mutate(intent)

			_, err := gateway.Dispatch(context.Background(), intent)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Dispatch() error = %v, want ErrValidation", err)
			}
			if email.callCount() != 0 {
				t.Errorf("provider calls = %d, want 0", email.callCount())
			}
			if len(repo.records) != 0 {
				t.Errorf("stored records = %d, want 0", len(repo.records))
			}
		})
	}
}

func TestGatewayDispatchStorageFailureReturnsError(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{createErr: errors.New("connection refused")}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-1"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	})

	_, err := gateway.Dispatch(context.Background(), emailIntent())
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Dispatch() error = %v, want ErrStorage", err)
	}
}

func TestGatewayDispatchReplaysStoredIdempotentResult(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-1"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	})

	key := "weekly-digest-2026-08"
	first := emailIntent()
	first.IdempotencyKey = &key

	firstResult, err := gateway.Dispatch(context.Background(), first)
	if err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}

	second := emailIntent()
	second.IdempotencyKey = &key

	secondResult, err := gateway.Dispatch(context.Background(), second)
	if err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}

	if !secondResult.Replayed {
		t.Error("second Dispatch() replayed = false, want true")
	}
	if secondResult.RecordID != firstResult.RecordID {
		t.Errorf("replayed record id = %s, want %s", secondResult.RecordID, firstResult.RecordID)
	}
	if got := secondResult.Outcomes[0].ProviderReference; got == nil || *got != "msg-1" {
		t.Errorf("replayed providerReference = %v, want msg-1", got)
	}
	if email.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (replay must not re-send)", email.callCount())
	}
	if len(repo.records) != 1 {
		t.Errorf("stored records = %d, want 1", len(repo.records))
	}
}

func TestGatewayDispatchSameKeyDifferentTenantsSendTwice(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-1"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	})

	key := "monthly-report"
	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		intent := emailIntent()
		intent.TenantID = tenant
		intent.IdempotencyKey = &key

		result, err := gateway.Dispatch(context.Background(), intent)
		if err != nil {
			t.Fatalf("Dispatch(%s) error = %v", tenant, err)
		}
		if result.Replayed {
			t.Errorf("Dispatch(%s) replayed = true, want false", tenant)
		}
	}

	if email.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", email.callCount())
	}
}

func TestGatewayDispatchResolvesStorageUniqueConflict(t *testing.T) {
	t.Parallel()

	key := "loan-approved-42"
	storedRef := "msg-existing"
	stored := &domain.AuditRecord{
		ID:             "rec-existing",
		TenantID:       "tenant-a",
		IdempotencyKey: &key,
		Category:       domain.CategorySuccess,
		Outcomes: []domain.DispatchOutcome{
			{
				Channel:           domain.ChannelEmail,
				Status:            domain.OutcomeSent,
				ProviderReference: &storedRef,
			},
		},
	}

	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-new"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	})

	// A racing dispatch lands between our replay lookup and our insert: the
	// lookup misses once, then the winner's record exists.
	var lookupMisses int
	gateway.audit = &conflictingRepo{fakeAuditRepo: repo, stored: stored, missBefore: 1, misses: &lookupMisses}

	intent := emailIntent()
	intent.IdempotencyKey = &key

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !result.Replayed {
		t.Error("Dispatch() replayed = false, want true after conflict resolution")
	}
	if result.RecordID != stored.ID {
		t.Errorf("record id = %s, want %s", result.RecordID, stored.ID)
	}
	if got := result.Outcomes[0].ProviderReference; got == nil || *got != storedRef {
		t.Errorf("providerReference = %v, want %s", got, storedRef)
	}
}

// conflictingRepo misses the replay lookup, rejects the insert with a unique
// violation, and then serves the record the racing writer stored.
type conflictingRepo struct {
	*fakeAuditRepo
	stored     *domain.AuditRecord
	missBefore int
	misses     *int
}

func (c *conflictingRepo) GetByIdempotencyKey(_ context.Context, tenantID, key string) (*domain.AuditRecord, error) {
	if *c.misses < c.missBefore {
		*c.misses++
		return nil, domain.ErrNotFound
	}
	if c.stored.TenantID == tenantID && c.stored.IdempotencyKey != nil && *c.stored.IdempotencyKey == key {
		copied := *c.stored
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

func (c *conflictingRepo) Create(context.Context, *domain.AuditRecord) error {
	return fmt.Errorf(`insert failed: duplicate key value violates unique constraint "idx_audit_records_tenant_idempotency_key"`)
}

func TestGatewayDispatchLockLoserAwaitsStoredRecord(t *testing.T) {
	t.Parallel()

	key := "pickup-reminder-17"
	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-1"}}
	locker := &fakeLocker{denyAll: true}

	gateway, err := NewGateway(repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	}, nil, locker, time.Second, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	// The lock is never granted; after one poll the winner's record appears.
	gateway.sleep = func(context.Context, time.Duration) error {
		stored := &domain.AuditRecord{
			ID:             "rec-winner",
			TenantID:       "tenant-a",
			IdempotencyKey: &key,
			Category:       domain.CategorySuccess,
			Outcomes: []domain.DispatchOutcome{
				{Channel: domain.ChannelEmail, Status: domain.OutcomeSent},
			},
		}
		repo.mu.Lock()
		repo.records = append(repo.records, stored)
		repo.mu.Unlock()
		return nil
	}

	intent := emailIntent()
	intent.IdempotencyKey = &key

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !result.Replayed {
		t.Error("Dispatch() replayed = false, want true")
	}
	if result.RecordID != "rec-winner" {
		t.Errorf("record id = %s, want rec-winner", result.RecordID)
	}
	if email.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0 (loser must not send)", email.callCount())
	}
}

// storeOnAcquireLocker models a winner that persists its record and releases
// the lock in the window between a duplicate's first lookup and its lock
// acquisition.
type storeOnAcquireLocker struct {
	fakeLocker
	repo   *fakeAuditRepo
	record *domain.AuditRecord
}

func (l *storeOnAcquireLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.repo.mu.Lock()
	l.repo.records = append(l.repo.records, l.record)
	l.repo.mu.Unlock()
	return l.fakeLocker.Acquire(ctx, key, ttl)
}

func TestGatewayDispatchRechecksStoreAfterAcquiringLock(t *testing.T) {
	t.Parallel()

	key := "k1"
	winnerRef := "msg-winner"
	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-dup"}}
	locker := &storeOnAcquireLocker{
		repo: repo,
		record: &domain.AuditRecord{
			ID:             "rec-winner",
			TenantID:       "tenant-a",
			IdempotencyKey: &key,
			Category:       domain.CategorySuccess,
			Outcomes: []domain.DispatchOutcome{
				{
					Channel:           domain.ChannelEmail,
					Status:            domain.OutcomeSent,
					ProviderReference: &winnerRef,
				},
			},
		},
	}

	gateway, err := NewGateway(repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	}, nil, locker, time.Second, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	intent := emailIntent()
	intent.IdempotencyKey = &key

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if email.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0 (winner already sent for this key)", email.callCount())
	}
	if !result.Replayed {
		t.Error("Dispatch() replayed = false, want true")
	}
	if result.RecordID != "rec-winner" {
		t.Errorf("record id = %s, want rec-winner", result.RecordID)
	}
	if got := result.Outcomes[0].ProviderReference; got == nil || *got != winnerRef {
		t.Errorf("providerReference = %v, want %s", got, winnerRef)
	}

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if locker.releases != 1 {
		t.Errorf("lock releases = %d, want 1", locker.releases)
	}
}

func TestGatewayDispatchLockLoserTimesOutWithConflict(t *testing.T) {
	t.Parallel()

	key := "stuck-dispatch"
	repo := &fakeAuditRepo{}
	locker := &fakeLocker{denyAll: true}

	gateway, err := NewGateway(repo, nil, nil, locker, time.Second, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	current := time.Now()
	gateway.now = func() time.Time { return current }
	gateway.sleep = func(context.Context, time.Duration) error {
		current = current.Add(time.Minute)
		return nil
	}

	intent := emailIntent()
	intent.Channels = []domain.Channel{domain.ChannelInApp}
	intent.Recipient = domain.Recipient{UserID: "user-1"}
	intent.IdempotencyKey = &key

	_, err = gateway.Dispatch(context.Background(), intent)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Dispatch() error = %v, want ErrConflict", err)
	}
}

func TestGatewayDispatchLockErrorFallsBackToConstraint(t *testing.T) {
	t.Parallel()

	key := "best-effort-lock"
	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-1"}}
	locker := &fakeLocker{acquireErr: errors.New("redis unavailable")}

	gateway, err := NewGateway(repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	}, nil, locker, time.Second, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	intent := emailIntent()
	intent.IdempotencyKey = &key

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !result.Accepted {
		t.Error("Dispatch() accepted = false, want true")
	}
	if email.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", email.callCount())
	}
}

func TestGatewayDispatchReleasesLockAfterSend(t *testing.T) {
	t.Parallel()

	key := "release-check"
	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-1"}}
	locker := &fakeLocker{}

	gateway, err := NewGateway(repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	}, nil, locker, time.Second, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	intent := emailIntent()
	intent.IdempotencyKey = &key

	if _, err := gateway.Dispatch(context.Background(), intent); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if locker.acquires != 1 {
		t.Errorf("lock acquires = %d, want 1", locker.acquires)
	}
	if locker.releases != 1 {
		t.Errorf("lock releases = %d, want 1", locker.releases)
	}
}

func TestGatewayDispatchDeduplicatesRequestedChannels(t *testing.T) {
	t.Parallel()

	repo := &fakeAuditRepo{}
	email := &fakeProvider{response: &provider.ProviderResponse{MessageID: "msg-1"}}
	gateway := newTestGateway(t, repo, map[domain.Channel]provider.Provider{
		domain.ChannelEmail: email,
	})

	intent := emailIntent()
	intent.Channels = []domain.Channel{domain.ChannelEmail, domain.ChannelEmail, domain.ChannelEmail}

	result, err := gateway.Dispatch(context.Background(), intent)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(result.Outcomes) != 1 {
		t.Errorf("outcomes = %d, want 1 after channel dedup", len(result.Outcomes))
	}
	if email.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", email.callCount())
	}
}
