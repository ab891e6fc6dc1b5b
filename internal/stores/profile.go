package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var (
	ErrProfileNotFound   = errors.New("profile document not found")
	ErrProfileExists     = errors.New("profile document already exists")
	ErrProfilePermission = errors.New("profile storage permission denied")
	ErrProfileQuota      = errors.New("profile storage quota exceeded")
	ErrProfileConflict   = errors.New("profile update contention")
	ErrProfileBackend    = errors.New("profile backend unavailable")
)

// ProfileDocStore keeps one opaque document per account id. Documents are
// never expired. Update runs a read-modify-write under WATCH so concurrent
// writers on the same document retry instead of interleaving; writers on
// different devices still resolve as last-writer-wins at the field level of
// whatever fn produces.
type ProfileDocStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewProfileDocStore(redisClient redis.UniversalClient, prefix string) *ProfileDocStore {
	if prefix == "" {
		prefix = "hpd"
	}
	return &ProfileDocStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ProfileDocStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

func (s *ProfileDocStore) Get(ctx context.Context, accountID string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrProfileNotFound
		}
		return nil, classifyProfileError(err)
	}
	return data, nil
}

// Create writes doc only if no document exists yet.
func (s *ProfileDocStore) Create(ctx context.Context, accountID string, doc []byte) error {
	ok, err := s.redis.SetNX(ctx, s.key(accountID), doc, 0).Result()
	if err != nil {
		return classifyProfileError(err)
	}
	if !ok {
		return ErrProfileExists
	}
	return nil
}

func (s *ProfileDocStore) Put(ctx context.Context, accountID string, doc []byte) error {
	if err := s.redis.Set(ctx, s.key(accountID), doc, 0).Err(); err != nil {
		return classifyProfileError(err)
	}
	return nil
}

// Update loads the current document, passes it to fn and stores the result
// if the key did not change in between. fn may be called more than once.
func (s *ProfileDocStore) Update(ctx context.Context, accountID string, fn func(current []byte) ([]byte, error)) ([]byte, error) {
	const maxRetries = 4
	key := s.key(accountID)

	for i := 0; i < maxRetries; i++ {
		var updated []byte
		var fnErr error

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			next, err := fn(current)
			if err != nil {
				fnErr = err
				return nil
			}
			updated = next

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrProfileNotFound
			}
			return nil, classifyProfileError(err)
		}
		if fnErr != nil {
			return nil, fnErr
		}
		return updated, nil
	}

	return nil, ErrProfileConflict
}

func classifyProfileError(err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "NOPERM"), strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"):
		return fmt.Errorf("%w: %v", ErrProfilePermission, err)
	case strings.HasPrefix(msg, "OOM"):
		return fmt.Errorf("%w: %v", ErrProfileQuota, err)
	default:
		return fmt.Errorf("%w: %v", ErrProfileBackend, err)
	}
}
