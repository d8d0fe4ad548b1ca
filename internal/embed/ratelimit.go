package embed

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures request rate limiting for embedding providers.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// BurstSize allows temporary burst above the rate limit
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for free-tier APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         5,
	}
}

// RateLimitProvider wraps a provider with a token-bucket request limiter.
type RateLimitProvider struct {
	inner  Provider
	config *RateLimitConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// WithRateLimit wraps a provider with rate limiting. A nil config uses
// defaults; a zero RequestsPerMinute disables limiting.
func WithRateLimit(inner Provider, config *RateLimitConfig) Provider {
	if inner == nil {
		return nil
	}
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if config.RequestsPerMinute <= 0 {
		return inner
	}

	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitProvider{
		inner:      inner,
		config:     config,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Embed waits for rate-limit capacity, then delegates.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

func (r *RateLimitProvider) waitForCapacity(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		// Time until one token accrues.
		perToken := time.Minute / time.Duration(r.config.RequestsPerMinute)
		wait := time.Duration((1 - r.tokens) * float64(perToken))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// refill accrues tokens based on elapsed time, capped at the burst size.
func (r *RateLimitProvider) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now

	r.tokens += elapsed.Minutes() * float64(r.config.RequestsPerMinute)

	burst := float64(r.config.BurstSize)
	if burst < 1 {
		burst = 1
	}
	if r.tokens > burst {
		r.tokens = burst
	}
}

var _ Provider = (*RateLimitProvider)(nil)
