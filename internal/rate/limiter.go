package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds sign-in limiter tuning parameters.
type Config struct {
	MaxSignInAttempts int
	SignInCooldown    time.Duration
}

// Limiter counts failed password sign-ins per email address using Redis
// counters. Once the count passes MaxSignInAttempts further sign-ins are
// refused until the cooldown window ends.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSignIn returns ErrRateLimited when email has exhausted its budget.
func (l *Limiter) CheckSignIn(ctx context.Context, email string) error {
	if l == nil || l.config.MaxSignInAttempts <= 0 {
		return nil
	}
	count, err := l.redis.Get(ctx, signInKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxSignInAttempts) {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure counts one failed sign-in. It returns ErrRateLimited when
// this failure exhausts the budget.
func (l *Limiter) RecordFailure(ctx context.Context, email string) error {
	if l == nil || l.config.MaxSignInAttempts <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, signInKey(email), l.config.SignInCooldown)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxSignInAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the failure counter after a successful sign-in or a
// completed password reset.
func (l *Limiter) Reset(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, signInKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current failure count. Missing keys return zero.
func (l *Limiter) Attempts(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, signInKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func signInKey(email string) string {
	return "hsi:" + strings.ToLower(strings.TrimSpace(email))
}
