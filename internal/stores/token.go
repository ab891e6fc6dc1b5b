package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenBackend  = errors.New("token backend unavailable")
)

// TokenStore keeps single-use opaque tokens mapped to a short value, such as
// a credential proof mapped to its verified phone number or a mail token
// mapped to an account id. Take removes the token atomically (GETDEL), so a
// token is honoured at most once.
type TokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string) *TokenStore {
	if prefix == "" {
		prefix = "htk"
	}
	return &TokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *TokenStore) key(token string) string {
	return s.prefix + ":" + token
}

func (s *TokenStore) Put(ctx context.Context, token, value string, ttl time.Duration) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := s.redis.Set(ctx, s.key(token), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return nil
}

// Take returns and deletes the value bound to token.
func (s *TokenStore) Take(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrTokenNotFound
	}
	value, err := s.redis.GetDel(ctx, s.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return value, nil
}

// Peek returns the value bound to token without consuming it.
func (s *TokenStore) Peek(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrTokenNotFound
	}
	value, err := s.redis.Get(ctx, s.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return value, nil
}

func equalDigest(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
