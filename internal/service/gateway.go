package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/foodbridge/notify-gateway/internal/lock"
	"github.com/foodbridge/notify-gateway/internal/observability"
	"github.com/foodbridge/notify-gateway/internal/provider"
	"github.com/foodbridge/notify-gateway/internal/ratelimit"
	"github.com/foodbridge/notify-gateway/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultProviderTimeout = 10 * time.Second
	replayPollInterval     = 100 * time.Millisecond
	lockGracePeriod        = 5 * time.Second
)

// Gateway is the single entry point for outbound notifications. Every CRUD
// action that wants to notify a human goes through Dispatch; the gateway owns
// validation, channel fan-out, failure normalization, and the audit trail.
type Gateway struct {
	audit           repository.AuditRepository
	providers       map[domain.Channel]provider.Provider
	limiter         ratelimit.RateLimiter
	locker          lock.KeyLock
	logger          *zap.Logger
	metrics         *observability.Metrics
	providerTimeout time.Duration
	now             func() time.Time
	sleep           func(ctx context.Context, d time.Duration) error
}

func NewGateway(
	audit repository.AuditRepository,
	providers map[domain.Channel]provider.Provider,
	limiter ratelimit.RateLimiter,
	locker lock.KeyLock,
	providerTimeout time.Duration,
	logger *zap.Logger,
) (*Gateway, error) {
	if audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}
	if providerTimeout <= 0 {
		providerTimeout = defaultProviderTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		audit:           audit,
		providers:       providers,
		limiter:         limiter,
		locker:          locker,
		logger:          logger,
		providerTimeout: providerTimeout,
		now:             time.Now,
		sleep:           sleepWithContext,
	}, nil
}

func (g *Gateway) SetMetrics(metrics *observability.Metrics) {
	if g == nil {
		return
	}
	g.metrics = metrics
}

// Dispatch validates the intent, fans it out across the requested channels,
// and writes exactly one audit record once every channel has resolved. Channel
// failures never abort the dispatch; only a caller-contract violation or a
// failed audit write returns an error instead of a result.
func (g *Gateway) Dispatch(ctx context.Context, intent *domain.NotificationIntent) (*domain.DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if intent == nil {
		return nil, fmt.Errorf("%w: intent is required", domain.ErrValidation)
	}

	intent.Normalize()
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(g.logger, ctx)

	if intent.IdempotencyKey != nil {
		result, done, err := g.beginIdempotentDispatch(ctx, intent, logger)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		if done != nil {
			defer done()
		}
	}

	recordID := uuid.NewString()
	outcomes := g.runChannels(ctx, intent, recordID, logger)

	record := &domain.AuditRecord{
		ID:             recordID,
		TenantID:       intent.TenantID,
		IdempotencyKey: intent.IdempotencyKey,
		Category:       intent.Category,
		Read:           false,
		Outcomes:       outcomes,
	}

	if err := g.audit.Create(ctx, record); err != nil {
		existing, resolved, resolveErr := g.resolveIdempotencyConflict(ctx, err, intent)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if resolved {
			return domain.ResultFromRecord(existing, true), nil
		}
		return nil, fmt.Errorf("%w: failed to persist audit record: %v", domain.ErrStorage, err)
	}

	g.recordOutcomeMetrics(outcomes)

	result := domain.ResultFromRecord(record, false)
	logger.Info("notification dispatched",
		zap.String("recordId", record.ID),
		zap.String("tenantId", record.TenantID),
		zap.Int("channels", len(outcomes)),
		zap.Bool("accepted", result.Accepted),
	)

	return result, nil
}

// beginIdempotentDispatch returns a stored result when the key was already
// dispatched, or acquires the per-key lock and returns its release func. A
// (nil, nil, nil) return means the caller owns the dispatch without a lock.
func (g *Gateway) beginIdempotentDispatch(
	ctx context.Context,
	intent *domain.NotificationIntent,
	logger *zap.Logger,
) (*domain.DispatchResult, func(), error) {
	key := *intent.IdempotencyKey

	result, err := g.replayStoredResult(ctx, intent.TenantID, key, logger)
	if err != nil || result != nil {
		return result, nil, err
	}

	if g.locker == nil {
		return nil, nil, nil
	}

	lockKey := intent.TenantID + ":" + key
	acquired, lockErr := g.locker.Acquire(ctx, lockKey, g.providerTimeout+lockGracePeriod)
	if lockErr != nil {
		// The storage-level unique constraint still prevents duplicate records.
		logger.Warn("dispatch lock unavailable, relying on storage constraint", zap.Error(lockErr))
		return nil, nil, nil
	}
	if !acquired {
		result, waitErr := g.awaitStoredRecord(ctx, intent.TenantID, key)
		return result, nil, waitErr
	}

	release := func() {
		if err := g.locker.Release(context.Background(), lockKey); err != nil {
			logger.Warn("failed to release dispatch lock", zap.Error(err))
		}
	}

	// A winner may have stored its record and released the lock between the
	// first lookup and our acquisition. Re-check under the lock so the key
	// never sends twice.
	result, err = g.replayStoredResult(ctx, intent.TenantID, key, logger)
	if err != nil || result != nil {
		release()
		return result, nil, err
	}

	return nil, release, nil
}

// replayStoredResult serves the stored outcome for a dispatched key, or
// (nil, nil) when the key has no record yet.
func (g *Gateway) replayStoredResult(
	ctx context.Context,
	tenantID, key string,
	logger *zap.Logger,
) (*domain.DispatchResult, error) {
	existing, err := g.audit.GetByIdempotencyKey(ctx, tenantID, key)
	if err == nil {
		logger.Info("idempotent dispatch replayed",
			zap.String("tenantId", tenantID),
			zap.String("recordId", existing.ID),
		)
		return domain.ResultFromRecord(existing, true), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: idempotency lookup failed: %v", domain.ErrStorage, err)
	}
	return nil, nil
}

// awaitStoredRecord polls for the record an in-flight duplicate dispatch is
// about to write, so concurrent calls with one key observe a single send.
func (g *Gateway) awaitStoredRecord(ctx context.Context, tenantID, key string) (*domain.DispatchResult, error) {
	deadline := g.now().Add(g.providerTimeout + lockGracePeriod)
	for {
		record, err := g.audit.GetByIdempotencyKey(ctx, tenantID, key)
		if err == nil {
			return domain.ResultFromRecord(record, true), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: idempotency lookup failed: %v", domain.ErrStorage, err)
		}
		if g.now().After(deadline) {
			return nil, fmt.Errorf("%w: dispatch with the same idempotency key is still in flight", domain.ErrConflict)
		}
		if err := g.sleep(ctx, replayPollInterval); err != nil {
			return nil, err
		}
	}
}

// runChannels resolves every requested channel. External channels run
// concurrently; each writes into its fixed slot so the outcome sequence stays
// in canonical order regardless of completion order.
func (g *Gateway) runChannels(
	ctx context.Context,
	intent *domain.NotificationIntent,
	recordID string,
	logger *zap.Logger,
) []domain.DispatchOutcome {
	outcomes := make([]domain.DispatchOutcome, len(intent.Channels))

	var group errgroup.Group
	for i, channel := range intent.Channels {
		i, channel := i, channel

		if err := intent.ValidateForChannel(channel); err != nil {
			logger.Info("channel skipped by validation",
				zap.String("channel", channel.String()),
				zap.Error(err),
			)
			outcomes[i] = domain.SkippedOutcome(channel, g.now().UTC())
			continue
		}

		// The in-app "send" is the audit record itself.
		if channel == domain.ChannelInApp {
			outcomes[i] = domain.SentOutcome(channel, recordID, g.now().UTC())
			continue
		}

		group.Go(func() error {
			outcomes[i] = g.sendThroughProvider(ctx, channel, intent, logger)
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

func (g *Gateway) sendThroughProvider(
	ctx context.Context,
	channel domain.Channel,
	intent *domain.NotificationIntent,
	logger *zap.Logger,
) domain.DispatchOutcome {
	attemptedAt := g.now().UTC()

	p, ok := g.providers[channel]
	if !ok || p == nil {
		logger.Warn("no adapter configured for channel", zap.String("channel", channel.String()))
		return domain.FailedOutcome(channel, domain.FailureMisconfigured, attemptedAt)
	}

	channelName := strings.ToLower(channel.String())
	if g.metrics != nil {
		g.metrics.IncDispatchInFlight(channelName)
		defer g.metrics.DecDispatchInFlight(channelName)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.providerTimeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(callCtx, channelName); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return domain.FailedOutcome(channel, domain.FailureTimeout, attemptedAt)
			}
			// A limiter backend outage should not block delivery.
			logger.Warn("rate limiter unavailable, sending without throttle", zap.Error(err))
		}
	}

	sendStart := g.now()
	resp, err := p.Send(callCtx, payloadFor(channel, intent))
	if g.metrics != nil {
		g.metrics.ObserveProviderSendDuration(channelName, g.now().Sub(sendStart))
	}

	if err != nil {
		kind := provider.KindOf(err)
		logger.Warn("channel send failed",
			zap.String("channel", channel.String()),
			zap.String("failureKind", kind.String()),
			zap.Error(err),
		)
		return domain.FailedOutcome(channel, kind, attemptedAt)
	}

	if resp == nil || strings.TrimSpace(resp.MessageID) == "" {
		// No delivery identifier means nothing to audit against; treat an
		// unconfirmed accept as a failure rather than guess.
		logger.Warn("provider returned no delivery identifier", zap.String("channel", channel.String()))
		return domain.FailedOutcome(channel, domain.FailureProviderRejected, attemptedAt)
	}

	return domain.SentOutcome(channel, resp.MessageID, attemptedAt)
}

func payloadFor(channel domain.Channel, intent *domain.NotificationIntent) provider.Payload {
	switch channel {
	case domain.ChannelEmail:
		return provider.Payload{
			To:      intent.Recipient.Email,
			Subject: intent.Subject,
			Body:    intent.Body,
		}
	case domain.ChannelSMS:
		return provider.Payload{
			To:   intent.Recipient.Phone,
			Body: intent.Body,
		}
	}
	return provider.Payload{Body: intent.Body}
}

func (g *Gateway) resolveIdempotencyConflict(
	ctx context.Context,
	createErr error,
	intent *domain.NotificationIntent,
) (*domain.AuditRecord, bool, error) {
	if intent.IdempotencyKey == nil {
		return nil, false, nil
	}
	if !isUniqueViolationError(createErr) {
		return nil, false, nil
	}

	existing, err := g.audit.GetByIdempotencyKey(ctx, intent.TenantID, *intent.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to load existing record after idempotency conflict: %v", domain.ErrStorage, err)
	}
	g.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("tenantId", intent.TenantID),
	)
	return existing, true, nil
}

func (g *Gateway) recordOutcomeMetrics(outcomes []domain.DispatchOutcome) {
	if g.metrics == nil {
		return
	}
	for _, outcome := range outcomes {
		g.metrics.IncDispatchOutcome(
			strings.ToLower(outcome.Channel.String()),
			strings.ToLower(outcome.Status.String()),
		)
	}
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
