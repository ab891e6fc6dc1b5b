package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrMailRateLimited        = errors.New("mail rate limited")
	ErrMailLimiterUnavailable = errors.New("mail limiter unavailable")
)

// MailConfig throttles verification and password-reset mail per recipient.
type MailConfig struct {
	MaxPerRecipient int
	Window          time.Duration
}

type MailLimiter struct {
	redis  redis.UniversalClient
	config MailConfig
}

func NewMailLimiter(redisClient redis.UniversalClient, cfg MailConfig) *MailLimiter {
	return &MailLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSend counts one mail of kind to recipient.
func (l *MailLimiter) CheckSend(ctx context.Context, kind, recipient string) error {
	if l == nil || l.config.MaxPerRecipient <= 0 {
		return nil
	}

	key := mailKey(kind, recipient)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMailLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrMailLimiterUnavailable, err)
		}
	}

	if count > int64(l.config.MaxPerRecipient) {
		return ErrMailRateLimited
	}
	return nil
}

func mailKey(kind, recipient string) string {
	return "hml:" + kind + ":" + recipient
}
