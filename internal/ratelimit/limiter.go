package ratelimit

import "context"

// RateLimiter throttles outbound provider sends per channel. The gateway
// calls Wait under the per-send timeout, so a saturated channel surfaces as a
// TIMEOUT outcome rather than an unbounded stall.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}
