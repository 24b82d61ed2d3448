package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyIntakeSource = "affiliate:intake:source:%s"

// IntakeLimiter throttles order-completed deliveries per upstream source.
// A nil limiter allows everything.
type IntakeLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewIntakeLimiter(cfg config.Config, client redis.UniversalClient) *IntakeLimiter {
	if client == nil || cfg.Intake.RateLimit <= 0 {
		return nil
	}
	burst := cfg.Intake.RateLimitBurst
	if burst <= 0 {
		burst = cfg.Intake.RateLimit
	}
	return &IntakeLimiter{
		bucket: NewTokenBucket(client),
		rate:   float64(cfg.Intake.RateLimit),
		burst:  burst,
	}
}

func (l *IntakeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IntakeLimiter) Allow(ctx context.Context, source string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIntakeSource, source), l.rate, l.burst)
}
