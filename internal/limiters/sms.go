package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSMSQuotaExceeded      = errors.New("sms quota exceeded")
	ErrSMSLimiterUnavailable = errors.New("sms limiter unavailable")
)

// SMSConfig bounds how many codes may be sent to one number, and from one
// caller, inside a fixed window.
type SMSConfig struct {
	MaxPerNumber int
	MaxPerCaller int
	Window       time.Duration
}

type SMSLimiter struct {
	redis  redis.UniversalClient
	config SMSConfig
}

func NewSMSLimiter(redisClient redis.UniversalClient, cfg SMSConfig) *SMSLimiter {
	return &SMSLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSend counts one send to phoneNumber and, when callerID is set, one
// send by that caller. Either counter passing its maximum denies the send.
func (l *SMSLimiter) CheckSend(ctx context.Context, phoneNumber, callerID string) error {
	if l == nil {
		return nil
	}
	if l.config.MaxPerNumber > 0 {
		if err := l.enforceFixedWindow(ctx, smsNumberKey(phoneNumber), l.config.MaxPerNumber); err != nil {
			return err
		}
	}
	if l.config.MaxPerCaller > 0 && callerID != "" {
		if err := l.enforceFixedWindow(ctx, smsCallerKey(callerID), l.config.MaxPerCaller); err != nil {
			return err
		}
	}
	return nil
}

func (l *SMSLimiter) enforceFixedWindow(ctx context.Context, key string, max int) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSMSLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrSMSLimiterUnavailable, err)
		}
	}

	if count > int64(max) {
		return ErrSMSQuotaExceeded
	}
	return nil
}

func smsNumberKey(phoneNumber string) string {
	return "hsn:" + phoneNumber
}

func smsCallerKey(callerID string) string {
	return "hsc:" + callerID
}
